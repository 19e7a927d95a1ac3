package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// Amounts are signed as 18-decimal fixed point integers.
const amountDecimals = 18

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	stepIntentTypeHash = ethcrypto.Keccak256(
		[]byte("StepIntent(bytes32 fingerprint,uint256 stepIndex,address inputToken,address outputToken,uint256 inputAmount,uint256 minOutput,uint256 deadline,bool allowPartial)"),
	)
	refundIntentTypeHash = ethcrypto.Keccak256(
		[]byte("RefundIntent(bytes32 fingerprint,address token,uint256 amount)"),
	)
)

// IntentSigner produces EIP-712 signatures over step and refund intents so
// the relayer can verify them before broadcasting.
type IntentSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	name       string
	version    string

	mu        sync.Mutex
	domainSep map[string][]byte // by chain id
}

// NewIntentSigner creates a signer for the given EIP-712 domain name.
func NewIntentSigner(pk *ecdsa.PrivateKey, domainName string) *IntentSigner {
	return &IntentSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		name:       domainName,
		version:    "1",
		domainSep:  make(map[string][]byte),
	}
}

// Address returns the signer's address.
func (s *IntentSigner) Address() common.Address {
	return s.address
}

// SignStep returns a 0x-prefixed 65-byte signature over in.
func (s *IntentSigner) SignStep(in domain.StepIntent) (string, error) {
	sep, err := s.domainSeparator(in.ChainID)
	if err != nil {
		return "", err
	}
	return s.signDigest(eip712Hash(sep, stepStructHash(in)))
}

// SignRefund returns a 0x-prefixed 65-byte signature over in.
func (s *IntentSigner) SignRefund(in domain.RefundIntent) (string, error) {
	sep, err := s.domainSeparator(in.ChainID)
	if err != nil {
		return "", err
	}
	structHash := ethcrypto.Keccak256(concatBytes(
		refundIntentTypeHash,
		ethcrypto.Keccak256([]byte(in.Fingerprint)),
		common.LeftPadBytes(common.HexToAddress(in.Token).Bytes(), 32),
		bigIntTo32Bytes(fixedPoint(in.Amount)),
	))
	return s.signDigest(eip712Hash(sep, structHash))
}

// Recover returns the address that produced sig over the step intent. The
// relayer performs the same check before broadcasting.
func (s *IntentSigner) Recover(in domain.StepIntent, sig string) (common.Address, error) {
	sep, err := s.domainSeparator(in.ChainID)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature")
	}
	raw[64] -= 27
	digest := eip712Hash(sep, stepStructHash(in))
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func stepStructHash(in domain.StepIntent) []byte {
	allowPartial := big.NewInt(0)
	if in.AllowPartial {
		allowPartial = big.NewInt(1)
	}
	return ethcrypto.Keccak256(concatBytes(
		stepIntentTypeHash,
		ethcrypto.Keccak256([]byte(in.Fingerprint)),
		bigIntTo32Bytes(big.NewInt(int64(in.StepIndex))),
		common.LeftPadBytes(common.HexToAddress(in.InputToken).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(in.OutputToken).Bytes(), 32),
		bigIntTo32Bytes(fixedPoint(in.InputAmount)),
		bigIntTo32Bytes(fixedPoint(in.MinOutput)),
		bigIntTo32Bytes(big.NewInt(in.Deadline.Unix())),
		bigIntTo32Bytes(allowPartial),
	))
}

// domainSeparator caches keccak256(abi.encode(typeHash, nameHash, versionHash, chainId))
// per chain. Chain ids must be decimal EVM chain ids.
func (s *IntentSigner) domainSeparator(chainID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sep, ok := s.domainSep[chainID]; ok {
		return sep, nil
	}
	id, ok := new(big.Int).SetString(chainID, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: chain %q: %w: %w", chainID, domain.ErrSigningFailed, domain.ErrInvalidRoute)
	}
	sep := ethcrypto.Keccak256(concatBytes(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(s.name)),
		ethcrypto.Keccak256([]byte(s.version)),
		bigIntTo32Bytes(id),
	))
	s.domainSep[chainID] = sep
	return sep, nil
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func (s *IntentSigner) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: %w: %w", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func fixedPoint(d decimal.Decimal) *big.Int {
	if d.IsNegative() {
		return big.NewInt(0)
	}
	return d.Shift(amountDecimals).BigInt()
}

func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
