package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSource is one external aggregator adapter.
type QuoteSource interface {
	Name() string
	Quote(ctx context.Context, r Route) (Quote, error)
	Price(ctx context.Context, chainID, token string) (Price, error)
}

// QuotePort is what the engine uses to obtain quotes and prices. GetPrice may
// return a usable Price together with an error wrapping ErrStaleData.
type QuotePort interface {
	GetQuote(ctx context.Context, r Route, opts QuoteOptions) (Quote, error)
	GetPrice(ctx context.Context, chainID, token string) (Price, error)
}

// StepIntent asks the wallet to execute one swap step. Fingerprint is stable
// across retries so the wallet can deduplicate submissions.
type StepIntent struct {
	Fingerprint string
	SwapID      string
	UserID      string
	StepIndex   int
	Protocol    string
	ChainID     string
	ToChainID   string
	InputToken  string
	OutputToken string
	InputAmount decimal.Decimal
	MinOutput   decimal.Decimal
	// AllowPartial lets the venue fill less than InputAmount; otherwise the
	// step must fill completely or revert.
	AllowPartial bool
	Deadline     time.Time
}

// StepResult is a confirmed step execution. InputUsed may be less than the
// requested input when liquidity only allowed a partial fill.
type StepResult struct {
	TxHash    string
	InputUsed decimal.Decimal
	Output    decimal.Decimal
}

// RefundIntent asks the wallet to return committed value to the user.
type RefundIntent struct {
	Fingerprint string
	SwapID      string
	UserID      string
	ChainID     string
	Token       string
	Amount      decimal.Decimal
}

// RefundReceipt describes a submitted refund.
type RefundReceipt struct {
	TxHash string
	Status RefundStatus
}

// Wallet is the signing and broadcast port.
type Wallet interface {
	SubmitStep(ctx context.Context, in StepIntent) (StepResult, error)
	SubmitRefund(ctx context.Context, in RefundIntent) (RefundReceipt, error)
	RefundStatus(ctx context.Context, chainID, txHash string) (RefundStatus, error)
}

// Notifier delivers a message to one user over one channel.
type Notifier interface {
	Notify(ctx context.Context, userID string, channel Channel, message string) error
}

// RiskReport is the factor breakdown returned by the token audit service.
// Factor values are in [0, 1] where 1 is the riskiest.
type RiskReport struct {
	Token   string
	ChainID string
	Factors map[string]float64
}

// TokenAuditor is the external security audit collaborator.
type TokenAuditor interface {
	Audit(ctx context.Context, chainID, token string) (RiskReport, error)
}

// EventPublisher fans state snapshots out to subscribers. Publish never
// blocks and never reports failure to the caller.
type EventPublisher interface {
	Publish(topic Topic, ev Event)
}
