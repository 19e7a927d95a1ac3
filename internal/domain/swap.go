package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SwapStatus is the aggregate lifecycle of a Swap.
type SwapStatus string

const (
	SwapPending    SwapStatus = "PENDING"
	SwapProcessing SwapStatus = "PROCESSING"
	SwapCompleted  SwapStatus = "COMPLETED"
	SwapFailed     SwapStatus = "FAILED"
	SwapRefunded   SwapStatus = "REFUNDED"
)

// Terminal reports whether no further execution happens for this status.
func (s SwapStatus) Terminal() bool {
	return s == SwapCompleted || s == SwapFailed || s == SwapRefunded
}

// StepStatus is the lifecycle of a single SwapStep.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepExecuting StepStatus = "EXECUTING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)

// SwapSource identifies what created a Swap.
type SwapSource string

const (
	SourceDirect     SwapSource = "direct"
	SourceDCA        SwapSource = "dca"
	SourceLimitOrder SwapSource = "limit_order"
)

// SwapStep is one hop (DEX trade or bridge transfer) of a Swap.
type SwapStep struct {
	StepIndex      int             `json:"stepIndex"`
	Protocol       string          `json:"protocol"`
	ChainID        string          `json:"chainId"`
	ToChainID      string          `json:"toChainId"`
	InputToken     string          `json:"inputToken"`
	OutputToken    string          `json:"outputToken"`
	InputAmount    decimal.Decimal `json:"inputAmount"`
	ExpectedOutput decimal.Decimal `json:"expectedOutput"`
	// PlannedOutput is the expectation fixed when the step first starts; the
	// slippage bound of every attempt is measured against it.
	PlannedOutput  decimal.Decimal `json:"plannedOutput"`
	ActualOutput   decimal.Decimal `json:"actualOutput"`
	PriceImpactBps int             `json:"priceImpactBps"`
	Status         StepStatus      `json:"status"`
	TxHash         string          `json:"txHash,omitempty"`
	Attempts       int             `json:"attempts"`
	Error          string          `json:"error,omitempty"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// RefundStatus tracks a compensating transfer.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundConfirmed RefundStatus = "CONFIRMED"
	RefundFailed    RefundStatus = "FAILED"
)

// Refund returns value committed by the last completed step of a failed Swap.
type Refund struct {
	StepIndex int             `json:"stepIndex"`
	ChainID   string          `json:"chainId"`
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	Status    RefundStatus    `json:"status"`
	TxHash    string          `json:"txHash,omitempty"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Swap converts InputAmount of InputToken on InputChainID into OutputToken on
// OutputChainID through an ordered list of steps.
type Swap struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Fingerprint      string          `json:"fingerprint"`
	Source           SwapSource      `json:"source"`
	SourceID         string          `json:"sourceId,omitempty"`
	InputToken       string          `json:"inputToken"`
	OutputToken      string          `json:"outputToken"`
	InputChainID     string          `json:"inputChainId"`
	OutputChainID    string          `json:"outputChainId"`
	InputAmount      decimal.Decimal `json:"inputAmount"`
	FilledInput      decimal.Decimal `json:"filledInput"`
	OutputAmount     decimal.Decimal `json:"outputAmount"`
	MaxSlippageBps   int             `json:"maxSlippageBps"`
	RequireFullFill  bool            `json:"requireFullFill"`
	Steps            []SwapStep      `json:"steps"`
	CurrentStepIndex int             `json:"currentStepIndex"`
	Status           SwapStatus      `json:"status"`
	Error            string          `json:"error,omitempty"`
	CancelRequested  bool            `json:"cancelRequested"`
	Refund           *Refund         `json:"refund,omitempty"`
	NextAttemptAt    *time.Time      `json:"nextAttemptAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so stored values cannot be mutated through the
// returned swap.
func (s Swap) Clone() Swap {
	out := s
	if s.Steps != nil {
		out.Steps = make([]SwapStep, len(s.Steps))
		copy(out.Steps, s.Steps)
	}
	if s.Refund != nil {
		r := *s.Refund
		out.Refund = &r
	}
	return out
}

// RefundPending reports whether a compensating transfer is still outstanding.
func (s Swap) RefundPending() bool {
	return s.Refund != nil && s.Refund.Status == RefundPending
}

// CheckInvariants verifies the structural rules every persisted Swap obeys.
func (s Swap) CheckInvariants() error {
	for i, st := range s.Steps {
		if st.StepIndex != i {
			return fmt.Errorf("swap %s: step %d has index %d", s.ID, i, st.StepIndex)
		}
	}
	if len(s.Steps) > 0 && (s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Steps)) {
		return fmt.Errorf("swap %s: current step %d out of range", s.ID, s.CurrentStepIndex)
	}
	for i := 0; i < s.CurrentStepIndex && i < len(s.Steps); i++ {
		if s.Steps[i].Status != StepCompleted {
			return fmt.Errorf("swap %s: step %d is %s before current step %d", s.ID, i, s.Steps[i].Status, s.CurrentStepIndex)
		}
	}
	allDone := len(s.Steps) > 0
	anyFailed := false
	for _, st := range s.Steps {
		if st.Status != StepCompleted {
			allDone = false
		}
		if st.Status == StepFailed {
			anyFailed = true
		}
	}
	switch s.Status {
	case SwapCompleted:
		if !allDone {
			return fmt.Errorf("swap %s: completed with unfinished steps", s.ID)
		}
	case SwapFailed:
		if len(s.Steps) > 0 && !anyFailed {
			return fmt.Errorf("swap %s: failed without a failed step", s.ID)
		}
		if s.Refund != nil && s.Refund.Status == RefundConfirmed {
			return fmt.Errorf("swap %s: failed with a confirmed refund", s.ID)
		}
	case SwapRefunded:
		if s.Refund == nil || s.Refund.Status != RefundConfirmed {
			return fmt.Errorf("swap %s: refunded without a confirmed refund", s.ID)
		}
	}
	return nil
}
