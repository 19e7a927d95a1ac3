package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the cadence of a DCA strategy.
type Frequency string

const (
	FrequencyHourly   Frequency = "HOURLY"
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
	FrequencyCustom   Frequency = "CUSTOM"
)

// Interval returns the fixed spacing between scheduled executions. MONTHLY is
// a fixed 30 days so schedules never depend on calendar arithmetic.
func (f Frequency) Interval(customHours int) (time.Duration, error) {
	switch f {
	case FrequencyHourly:
		return time.Hour, nil
	case FrequencyDaily:
		return 24 * time.Hour, nil
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, nil
	case FrequencyBiweekly:
		return 14 * 24 * time.Hour, nil
	case FrequencyMonthly:
		return 30 * 24 * time.Hour, nil
	case FrequencyCustom:
		if customHours <= 0 {
			return 0, fmt.Errorf("%w: custom frequency needs customIntervalHours > 0", ErrInvalidRequest)
		}
		return time.Duration(customHours) * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRequest, f)
}

// DCAStatus is the lifecycle of a DCA strategy.
type DCAStatus string

const (
	DCAActive    DCAStatus = "ACTIVE"
	DCAPaused    DCAStatus = "PAUSED"
	DCACompleted DCAStatus = "COMPLETED"
	DCACancelled DCAStatus = "CANCELLED"
)

// Terminal reports whether the strategy has left the scheduling pool for good.
func (s DCAStatus) Terminal() bool {
	return s == DCACompleted || s == DCACancelled
}

// DCAStrategy is a recurring purchase plan.
type DCAStrategy struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"userId"`
	InputToken          string          `json:"inputToken"`
	OutputToken         string          `json:"outputToken"`
	InputChainID        string          `json:"inputChainId"`
	OutputChainID       string          `json:"outputChainId"`
	AmountPerExecution  decimal.Decimal `json:"amountPerExecution"`
	Frequency           Frequency       `json:"frequency"`
	CustomIntervalHours int             `json:"customIntervalHours,omitempty"`
	TotalExecutions     int             `json:"totalExecutions"`
	ExecutedCount       int             `json:"executedCount"`
	SkippedCount        int             `json:"skippedCount"`
	NextExecutionAt     time.Time       `json:"nextExecutionAt"`
	LastExecutionAt     *time.Time      `json:"lastExecutionAt,omitempty"`
	TotalInputSpent     decimal.Decimal `json:"totalInputSpent"`
	TotalOutputReceived decimal.Decimal `json:"totalOutputReceived"`
	AveragePrice        decimal.Decimal `json:"averagePrice"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	SkipOnHighGas       bool            `json:"skipOnHighGas"`
	MaxGasUSD           decimal.Decimal `json:"maxGasUsd"`
	MaxSlippageBps      int             `json:"maxSlippageBps"`
	Status              DCAStatus       `json:"status"`
	LastError           string          `json:"lastError,omitempty"`
	CancelRequested     bool            `json:"cancelRequested"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Fingerprint identifies the attempt for the currently scheduled slot.
func (s DCAStrategy) Fingerprint() string {
	return fmt.Sprintf("dca:%s:%d", s.ID, s.NextExecutionAt.Unix())
}

// Advance moves NextExecutionAt one interval past the scheduled time.
func (s *DCAStrategy) Advance() error {
	iv, err := s.Frequency.Interval(s.CustomIntervalHours)
	if err != nil {
		return err
	}
	s.NextExecutionAt = s.NextExecutionAt.Add(iv)
	return nil
}

// RecomputeAverage sets AveragePrice from the running totals.
func (s *DCAStrategy) RecomputeAverage() {
	if s.TotalOutputReceived.IsPositive() {
		s.AveragePrice = s.TotalInputSpent.Div(s.TotalOutputReceived)
	}
}

// DCAExecutionStatus is the lifecycle of one scheduled slot.
type DCAExecutionStatus string

const (
	DCAExecPending   DCAExecutionStatus = "PENDING"
	DCAExecExecuting DCAExecutionStatus = "EXECUTING"
	DCAExecCompleted DCAExecutionStatus = "COMPLETED"
	DCAExecFailed    DCAExecutionStatus = "FAILED"
	DCAExecSkipped   DCAExecutionStatus = "SKIPPED"
)

// Terminal reports whether the execution outcome is final.
func (s DCAExecutionStatus) Terminal() bool {
	return s == DCAExecCompleted || s == DCAExecFailed || s == DCAExecSkipped
}

// DCAExecution is the child record of one DCA slot.
type DCAExecution struct {
	ID              string             `json:"id"`
	StrategyID      string             `json:"strategyId"`
	UserID          string             `json:"userId"`
	Fingerprint     string             `json:"fingerprint"`
	ExecutionNumber int                `json:"executionNumber"`
	ScheduledAt     time.Time          `json:"scheduledAt"`
	Status          DCAExecutionStatus `json:"status"`
	SwapID          string             `json:"swapId,omitempty"`
	InputAmount     decimal.Decimal    `json:"inputAmount"`
	OutputAmount    decimal.Decimal    `json:"outputAmount"`
	Price           decimal.Decimal    `json:"price"`
	GasUSD          decimal.Decimal    `json:"gasUsd"`
	Error           string             `json:"error,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}
