package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind tags the variant of a CreateRequest.
type EntityKind string

const (
	KindSwap       EntityKind = "swap"
	KindDCA        EntityKind = "dca"
	KindLimitOrder EntityKind = "limit_order"
	KindAlert      EntityKind = "alert"
)

// CreateRequest is a tagged union: Kind selects which one of the variant
// fields must be set. Validate rejects every other combination.
type CreateRequest struct {
	Kind       EntityKind               `json:"kind"`
	Swap       *CreateSwapRequest       `json:"swap,omitempty"`
	DCA        *CreateDCARequest        `json:"dca,omitempty"`
	LimitOrder *CreateLimitOrderRequest `json:"limitOrder,omitempty"`
	Alert      *CreateAlertRequest      `json:"alert,omitempty"`
}

// DecodeCreateRequest parses and validates a request body.
func DecodeCreateRequest(data []byte) (CreateRequest, error) {
	var req CreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return CreateRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return CreateRequest{}, err
	}
	return req, nil
}

// Validate checks that exactly the variant named by Kind is present and valid.
func (r CreateRequest) Validate() error {
	set := 0
	for _, present := range []bool{r.Swap != nil, r.DCA != nil, r.LimitOrder != nil, r.Alert != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one entity body must be set, got %d", ErrInvalidRequest, set)
	}
	switch r.Kind {
	case KindSwap:
		if r.Swap == nil {
			return fmt.Errorf("%w: kind swap without swap body", ErrInvalidRequest)
		}
		return r.Swap.Validate()
	case KindDCA:
		if r.DCA == nil {
			return fmt.Errorf("%w: kind dca without dca body", ErrInvalidRequest)
		}
		return r.DCA.Validate()
	case KindLimitOrder:
		if r.LimitOrder == nil {
			return fmt.Errorf("%w: kind limit_order without limitOrder body", ErrInvalidRequest)
		}
		return r.LimitOrder.Validate()
	case KindAlert:
		if r.Alert == nil {
			return fmt.Errorf("%w: kind alert without alert body", ErrInvalidRequest)
		}
		return r.Alert.Validate()
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
}

// fieldErrors collects validation problems for one request body.
type fieldErrors []string

func (f *fieldErrors) addf(format string, args ...any) {
	*f = append(*f, fmt.Sprintf(format, args...))
}

func (f fieldErrors) err(kind EntityKind) error {
	if len(f) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalidRequest, kind, strings.Join(f, "; "))
}

func (f *fieldErrors) required(name, v string) {
	if strings.TrimSpace(v) == "" {
		f.addf("%s is required", name)
	}
}

func (f *fieldErrors) positive(name string, v decimal.Decimal) {
	if !v.IsPositive() {
		f.addf("%s must be > 0", name)
	}
}

func (f *fieldErrors) slippage(bps int) {
	if bps < 0 || bps > 5000 {
		f.addf("maxSlippageBps must be within 0-5000, got %d", bps)
	}
}

// CreateSwapRequest is a direct user swap.
type CreateSwapRequest struct {
	UserID         string          `json:"userId"`
	InputToken     string          `json:"inputToken"`
	OutputToken    string          `json:"outputToken"`
	InputChainID   string          `json:"inputChainId"`
	OutputChainID  string          `json:"outputChainId"`
	InputAmount    decimal.Decimal `json:"inputAmount"`
	MaxSlippageBps int             `json:"maxSlippageBps"`
}

func (r CreateSwapRequest) Validate() error {
	var fe fieldErrors
	fe.required("userId", r.UserID)
	fe.required("inputToken", r.InputToken)
	fe.required("outputToken", r.OutputToken)
	fe.required("inputChainId", r.InputChainID)
	fe.required("outputChainId", r.OutputChainID)
	fe.positive("inputAmount", r.InputAmount)
	fe.slippage(r.MaxSlippageBps)
	if r.InputChainID == r.OutputChainID && strings.EqualFold(r.InputToken, r.OutputToken) {
		fe.addf("inputToken and outputToken must differ on the same chain")
	}
	return fe.err(KindSwap)
}

// Swap builds the PENDING swap for this request.
func (r CreateSwapRequest) Swap(id string, now time.Time) Swap {
	return Swap{
		ID:             id,
		UserID:         r.UserID,
		Fingerprint:    "swap:" + id,
		Source:         SourceDirect,
		InputToken:     r.InputToken,
		OutputToken:    r.OutputToken,
		InputChainID:   r.InputChainID,
		OutputChainID:  r.OutputChainID,
		InputAmount:    r.InputAmount,
		MaxSlippageBps: r.MaxSlippageBps,
		Status:         SwapPending,
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CreateDCARequest is a recurring purchase plan.
type CreateDCARequest struct {
	UserID              string          `json:"userId"`
	InputToken          string          `json:"inputToken"`
	OutputToken         string          `json:"outputToken"`
	InputChainID        string          `json:"inputChainId"`
	OutputChainID       string          `json:"outputChainId"`
	AmountPerExecution  decimal.Decimal `json:"amountPerExecution"`
	Frequency           Frequency       `json:"frequency"`
	CustomIntervalHours int             `json:"customIntervalHours"`
	TotalExecutions     int             `json:"totalExecutions"`
	StartAt             *time.Time      `json:"startAt"`
	SkipOnHighGas       bool            `json:"skipOnHighGas"`
	MaxGasUSD           decimal.Decimal `json:"maxGasUsd"`
	MaxSlippageBps      int             `json:"maxSlippageBps"`
}

func (r CreateDCARequest) Validate() error {
	var fe fieldErrors
	fe.required("userId", r.UserID)
	fe.required("inputToken", r.InputToken)
	fe.required("outputToken", r.OutputToken)
	fe.required("inputChainId", r.InputChainID)
	fe.required("outputChainId", r.OutputChainID)
	fe.positive("amountPerExecution", r.AmountPerExecution)
	if _, err := r.Frequency.Interval(r.CustomIntervalHours); err != nil {
		fe.addf("frequency: %s", strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": "))
	}
	if r.TotalExecutions < 1 {
		fe.addf("totalExecutions must be >= 1")
	}
	if r.SkipOnHighGas {
		fe.positive("maxGasUsd", r.MaxGasUSD)
	}
	fe.slippage(r.MaxSlippageBps)
	return fe.err(KindDCA)
}

// Strategy builds the ACTIVE strategy for this request.
func (r CreateDCARequest) Strategy(id string, now time.Time) DCAStrategy {
	next := now
	if r.StartAt != nil && r.StartAt.After(now) {
		next = *r.StartAt
	}
	return DCAStrategy{
		ID:                  id,
		UserID:              r.UserID,
		InputToken:          r.InputToken,
		OutputToken:         r.OutputToken,
		InputChainID:        r.InputChainID,
		OutputChainID:       r.OutputChainID,
		AmountPerExecution:  r.AmountPerExecution,
		Frequency:           r.Frequency,
		CustomIntervalHours: r.CustomIntervalHours,
		TotalExecutions:     r.TotalExecutions,
		NextExecutionAt:     next.UTC().Truncate(time.Second),
		SkipOnHighGas:       r.SkipOnHighGas,
		MaxGasUSD:           r.MaxGasUSD,
		MaxSlippageBps:      r.MaxSlippageBps,
		Status:              DCAActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// CreateLimitOrderRequest is a standing price-triggered swap.
type CreateLimitOrderRequest struct {
	UserID             string          `json:"userId"`
	OrderType          OrderType       `json:"orderType"`
	ChainID            string          `json:"chainId"`
	InputToken         string          `json:"inputToken"`
	OutputToken        string          `json:"outputToken"`
	InputAmount        decimal.Decimal `json:"inputAmount"`
	TargetPrice        decimal.Decimal `json:"targetPrice"`
	PartialFillAllowed bool            `json:"partialFillAllowed"`
	MaxSlippageBps     int             `json:"maxSlippageBps"`
	ExpiresAt          *time.Time      `json:"expiresAt"`
}

func (r CreateLimitOrderRequest) Validate() error {
	var fe fieldErrors
	fe.required("userId", r.UserID)
	fe.required("chainId", r.ChainID)
	fe.required("inputToken", r.InputToken)
	fe.required("outputToken", r.OutputToken)
	if r.OrderType != OrderBuy && r.OrderType != OrderSell {
		fe.addf("orderType must be BUY or SELL, got %q", r.OrderType)
	}
	fe.positive("inputAmount", r.InputAmount)
	fe.positive("targetPrice", r.TargetPrice)
	fe.slippage(r.MaxSlippageBps)
	return fe.err(KindLimitOrder)
}

// Order builds the PENDING order for this request.
func (r CreateLimitOrderRequest) Order(id string, now time.Time) LimitOrder {
	return LimitOrder{
		ID:                 id,
		UserID:             r.UserID,
		OrderType:          r.OrderType,
		ChainID:            r.ChainID,
		InputToken:         r.InputToken,
		OutputToken:        r.OutputToken,
		InputAmount:        r.InputAmount,
		TargetPrice:        r.TargetPrice,
		PartialFillAllowed: r.PartialFillAllowed,
		MaxSlippageBps:     r.MaxSlippageBps,
		ExpiresAt:          r.ExpiresAt,
		Status:             OrderPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// CreateAlertRequest is a notify-only price watch.
type CreateAlertRequest struct {
	UserID              string          `json:"userId"`
	ChainID             string          `json:"chainId"`
	TokenAddress        string          `json:"tokenAddress"`
	TokenSymbol         string          `json:"tokenSymbol"`
	AlertType           AlertType       `json:"alertType"`
	TargetPrice         decimal.Decimal `json:"targetPrice"`
	TargetPercentChange decimal.Decimal `json:"targetPercentChange"`
	IsRecurring         bool            `json:"isRecurring"`
	CooldownMinutes     int             `json:"cooldownMinutes"`
	NotifyEmail         bool            `json:"notifyEmail"`
	NotifyPush          bool            `json:"notifyPush"`
	NotifyTelegram      bool            `json:"notifyTelegram"`
	ExpiresAt           *time.Time      `json:"expiresAt"`
}

func (r CreateAlertRequest) Validate() error {
	var fe fieldErrors
	fe.required("userId", r.UserID)
	fe.required("chainId", r.ChainID)
	fe.required("tokenAddress", r.TokenAddress)
	switch r.AlertType {
	case AlertAbove, AlertBelow:
		fe.positive("targetPrice", r.TargetPrice)
	case AlertPercentChange:
		if r.TargetPercentChange.IsZero() {
			fe.addf("targetPercentChange must be non-zero")
		}
	default:
		fe.addf("alertType must be above, below or percent_change, got %q", r.AlertType)
	}
	if r.CooldownMinutes < 0 {
		fe.addf("cooldownMinutes must be >= 0")
	}
	if !r.NotifyEmail && !r.NotifyPush && !r.NotifyTelegram {
		fe.addf("at least one notification channel must be enabled")
	}
	return fe.err(KindAlert)
}

// Alert builds the ACTIVE alert for this request. priceNow is recorded as the
// base for percent_change alerts.
func (r CreateAlertRequest) Alert(id string, priceNow decimal.Decimal, now time.Time) PriceAlert {
	return PriceAlert{
		ID:                  id,
		UserID:              r.UserID,
		ChainID:             r.ChainID,
		TokenAddress:        r.TokenAddress,
		TokenSymbol:         r.TokenSymbol,
		AlertType:           r.AlertType,
		TargetPrice:         r.TargetPrice,
		TargetPercentChange: r.TargetPercentChange,
		PriceAtCreation:     priceNow,
		IsRecurring:         r.IsRecurring,
		CooldownMinutes:     r.CooldownMinutes,
		NotifyEmail:         r.NotifyEmail,
		NotifyPush:          r.NotifyPush,
		NotifyTelegram:      r.NotifyTelegram,
		LastPrice:           priceNow,
		ExpiresAt:           r.ExpiresAt,
		Status:              AlertActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
