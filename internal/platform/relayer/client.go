// Package relayer implements the wallet port against a transaction relayer.
// Intents are EIP-712 signed locally; the relayer verifies the signature,
// broadcasts, and reports confirmations. Fingerprints double as idempotency
// keys so a resubmitted intent returns the original transaction.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/crypto"
	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/platform/apiclient"
)

// Config configures the relayer client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// Client implements domain.Wallet.
type Client struct {
	api    *apiclient.Client
	signer *crypto.IntentSigner
	poll   time.Duration
	logger *slog.Logger
}

var _ domain.Wallet = (*Client)(nil)

// New creates a Client. Requests carry HMAC headers from auth.
func New(cfg Config, signer *crypto.IntentSigner, auth *crypto.HMACAuth, logger *slog.Logger) *Client {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	var headers apiclient.HeaderFunc
	if auth != nil {
		headers = auth.Headers
	}
	return &Client{
		api: apiclient.New(apiclient.Config{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Headers: headers,
		}),
		signer: signer,
		poll:   poll,
		logger: logger.With(slog.String("component", "relayer")),
	}
}

type stepRequest struct {
	Fingerprint  string `json:"fingerprint"`
	SwapID       string `json:"swapId"`
	UserID       string `json:"userId"`
	StepIndex    int    `json:"stepIndex"`
	Protocol     string `json:"protocol"`
	ChainID      string `json:"chainId"`
	ToChainID    string `json:"toChainId,omitempty"`
	InputToken   string `json:"inputToken"`
	OutputToken  string `json:"outputToken"`
	InputAmount  string `json:"inputAmount"`
	MinOutput    string `json:"minOutput"`
	AllowPartial bool   `json:"allowPartial"`
	Deadline     int64  `json:"deadline,omitempty"`
	Signer       string `json:"signer"`
	Signature    string `json:"signature"`
}

type stepResponse struct {
	Status    string          `json:"status"`
	TxHash    string          `json:"txHash"`
	InputUsed decimal.Decimal `json:"inputUsed"`
	Output    decimal.Decimal `json:"output"`
	ErrorCode string          `json:"errorCode"`
	Message   string          `json:"message"`
}

type refundRequest struct {
	Fingerprint string `json:"fingerprint"`
	SwapID      string `json:"swapId"`
	UserID      string `json:"userId"`
	ChainID     string `json:"chainId"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Signer      string `json:"signer"`
	Signature   string `json:"signature"`
}

type refundResponse struct {
	Status    string `json:"status"`
	TxHash    string `json:"txHash"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// Relayer step statuses.
const (
	statusPending   = "PENDING"
	statusConfirmed = "CONFIRMED"
	statusFailed    = "FAILED"
)

// SubmitStep signs and submits in, then waits for confirmation until ctx is
// done.
func (c *Client) SubmitStep(ctx context.Context, in domain.StepIntent) (domain.StepResult, error) {
	sig, err := c.signer.SignStep(in)
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("relayer: sign step %s: %w", in.Fingerprint, err)
	}
	req := stepRequest{
		Fingerprint:  in.Fingerprint,
		SwapID:       in.SwapID,
		UserID:       in.UserID,
		StepIndex:    in.StepIndex,
		Protocol:     in.Protocol,
		ChainID:      in.ChainID,
		ToChainID:    in.ToChainID,
		InputToken:   in.InputToken,
		OutputToken:  in.OutputToken,
		InputAmount:  in.InputAmount.String(),
		MinOutput:    in.MinOutput.String(),
		AllowPartial: in.AllowPartial,
		Signer:       c.signer.Address().Hex(),
		Signature:    sig,
	}
	if !in.Deadline.IsZero() {
		req.Deadline = in.Deadline.Unix()
	}

	var resp stepResponse
	idem := map[string]string{"Idempotency-Key": in.Fingerprint}
	if err := c.api.Do(ctx, http.MethodPost, "/v1/steps", req, &resp, idem); err != nil {
		return domain.StepResult{}, fmt.Errorf("relayer: submit step %s: %w", in.Fingerprint, err)
	}

	path := "/v1/steps/" + url.PathEscape(in.Fingerprint)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for resp.Status == statusPending {
		select {
		case <-ctx.Done():
			return domain.StepResult{}, fmt.Errorf("relayer: step %s unconfirmed: %w", in.Fingerprint, ctx.Err())
		case <-ticker.C:
		}
		if err := c.api.Do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
			if domain.IsRetryable(err) {
				c.logger.DebugContext(ctx, "step status poll failed",
					slog.String("fingerprint", in.Fingerprint),
					slog.String("error", err.Error()),
				)
				continue
			}
			return domain.StepResult{}, fmt.Errorf("relayer: step %s status: %w", in.Fingerprint, err)
		}
	}

	if resp.Status != statusConfirmed {
		return domain.StepResult{}, fmt.Errorf("relayer: step %s %s (%s): %w",
			in.Fingerprint, resp.Status, resp.Message, codeError(resp.ErrorCode))
	}
	return domain.StepResult{TxHash: resp.TxHash, InputUsed: resp.InputUsed, Output: resp.Output}, nil
}

// SubmitRefund signs and submits a refund without waiting for confirmation.
func (c *Client) SubmitRefund(ctx context.Context, in domain.RefundIntent) (domain.RefundReceipt, error) {
	sig, err := c.signer.SignRefund(in)
	if err != nil {
		return domain.RefundReceipt{}, fmt.Errorf("relayer: sign refund %s: %w", in.Fingerprint, err)
	}
	req := refundRequest{
		Fingerprint: in.Fingerprint,
		SwapID:      in.SwapID,
		UserID:      in.UserID,
		ChainID:     in.ChainID,
		Token:       in.Token,
		Amount:      in.Amount.String(),
		Signer:      c.signer.Address().Hex(),
		Signature:   sig,
	}
	var resp refundResponse
	idem := map[string]string{"Idempotency-Key": in.Fingerprint}
	if err := c.api.Do(ctx, http.MethodPost, "/v1/refunds", req, &resp, idem); err != nil {
		return domain.RefundReceipt{}, fmt.Errorf("relayer: submit refund %s: %w", in.Fingerprint, err)
	}
	if resp.Status == statusFailed {
		return domain.RefundReceipt{}, fmt.Errorf("relayer: refund %s rejected (%s): %w",
			in.Fingerprint, resp.Message, codeError(resp.ErrorCode))
	}
	return domain.RefundReceipt{TxHash: resp.TxHash, Status: refundStatus(resp.Status)}, nil
}

// RefundStatus reports the on-chain state of a submitted refund.
func (c *Client) RefundStatus(ctx context.Context, chainID, txHash string) (domain.RefundStatus, error) {
	path := fmt.Sprintf("/v1/refunds/%s/%s", url.PathEscape(chainID), url.PathEscape(txHash))
	var resp refundResponse
	if err := c.api.Do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return "", fmt.Errorf("relayer: refund status %s: %w", txHash, err)
	}
	return refundStatus(resp.Status), nil
}

func refundStatus(s string) domain.RefundStatus {
	switch s {
	case statusConfirmed:
		return domain.RefundConfirmed
	case statusFailed:
		return domain.RefundFailed
	}
	return domain.RefundPending
}

// codeError maps relayer error codes onto the execution error taxonomy.
// Unknown codes are treated as transient.
func codeError(code string) error {
	switch code {
	case "REVERTED":
		return domain.ErrReverted
	case "INSUFFICIENT_BALANCE":
		return domain.ErrInsufficientBalance
	case "SLIPPAGE":
		return domain.ErrSlippageExceeded
	case "INVALID_ROUTE":
		return domain.ErrInvalidRoute
	case "LIQUIDITY":
		return domain.ErrTransientLiquidity
	case "TIMEOUT":
		return domain.ErrTimeout
	case "":
		return domain.ErrRPC
	}
	return errors.Join(domain.ErrRPC, fmt.Errorf("code %s", code))
}
