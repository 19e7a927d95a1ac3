package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestKeyFileRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKeyFromFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	pk, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, hex.EncodeToString(ethcrypto.FromECDSA(pk)))

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestSignStepRecoversSigner(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex})
	require.NoError(t, err)
	s := NewIntentSigner(pk, "SwapEngine Relayer")

	in := domain.StepIntent{
		Fingerprint: "swap:abc:0",
		StepIndex:   0,
		ChainID:     "137",
		InputToken:  "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		OutputToken: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
		InputAmount: decimal.RequireFromString("100.5"),
		MinOutput:   decimal.RequireFromString("0.031"),
		Deadline:    time.Unix(1_700_000_000, 0),
	}
	sig, err := s.SignStep(in)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	addr, err := s.Recover(in, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	// A different amount must not recover to the same signer.
	in.MinOutput = decimal.RequireFromString("0.03")
	other, err := s.Recover(in, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestSignRejectsNonNumericChain(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex})
	require.NoError(t, err)
	s := NewIntentSigner(pk, "SwapEngine Relayer")

	_, err = s.SignRefund(domain.RefundIntent{ChainID: "solana", Token: "0x0", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidRoute)
}

func TestHMACHeaders(t *testing.T) {
	h := &HMACAuth{Key: "key-1", Secret: "s3cret"}
	headers := h.HeadersAt("POST", "/v1/steps", `{"a":1}`, 1_700_000_000)
	assert.Equal(t, "key-1", headers["X-API-KEY"])
	assert.Equal(t, "1700000000", headers["X-TIMESTAMP"])
	assert.True(t, h.Verify("POST", "/v1/steps", `{"a":1}`, "1700000000", headers["X-SIGNATURE"]))
	assert.False(t, h.Verify("POST", "/v1/steps", `{"a":2}`, "1700000000", headers["X-SIGNATURE"]))
	assert.Equal(t, "HMACAuth{key=key-****, secret=s3cr****}", h.String())
}

func TestHMACVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := &HMACAuth{Key: "k", Secret: "s", MaxSkew: time.Minute, now: func() time.Time { return now }}

	fresh := h.Headers("GET", "/v1/status", "")
	assert.True(t, h.Verify("GET", "/v1/status", "", fresh[HeaderTimestamp], fresh[HeaderSignature]))

	old := h.HeadersAt("GET", "/v1/status", "", now.Add(-2*time.Minute).Unix())
	assert.False(t, h.Verify("GET", "/v1/status", "", old[HeaderTimestamp], old[HeaderSignature]))
	assert.False(t, h.Verify("GET", "/v1/status", "", "not-a-number", old[HeaderSignature]))
}
