package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the trade direction of a limit order.
type OrderType string

const (
	OrderBuy  OrderType = "BUY"
	OrderSell OrderType = "SELL"
)

// LimitOrderStatus is the lifecycle of a limit order.
type LimitOrderStatus string

const (
	OrderPending         LimitOrderStatus = "PENDING"
	OrderPartiallyFilled LimitOrderStatus = "PARTIALLY_FILLED"
	OrderFilled          LimitOrderStatus = "FILLED"
	OrderCancelled       LimitOrderStatus = "CANCELLED"
	OrderExpired         LimitOrderStatus = "EXPIRED"
	OrderFailed          LimitOrderStatus = "FAILED"
)

// Terminal reports whether the order has left the scheduling pool for good.
func (s LimitOrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderExpired, OrderFailed:
		return true
	}
	return false
}

// LimitOrder executes a swap once the base token price crosses TargetPrice.
type LimitOrder struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"userId"`
	OrderType           OrderType        `json:"orderType"`
	ChainID             string           `json:"chainId"`
	InputToken          string           `json:"inputToken"`
	OutputToken         string           `json:"outputToken"`
	InputAmount         decimal.Decimal  `json:"inputAmount"`
	TargetPrice         decimal.Decimal  `json:"targetPrice"`
	FilledAmount        decimal.Decimal  `json:"filledAmount"`
	FillPercent         decimal.Decimal  `json:"fillPercent"`
	OutputReceived      decimal.Decimal  `json:"outputReceived"`
	PartialFillAllowed  bool             `json:"partialFillAllowed"`
	MaxSlippageBps      int              `json:"maxSlippageBps"`
	ExpiresAt           *time.Time       `json:"expiresAt,omitempty"`
	CurrentPrice        decimal.Decimal  `json:"currentPrice"`
	LastCheckedAt       *time.Time       `json:"lastCheckedAt,omitempty"`
	AttemptCount        int              `json:"attemptCount"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	ActiveFingerprint   string           `json:"activeFingerprint,omitempty"`
	Status              LimitOrderStatus `json:"status"`
	LastError           string           `json:"lastError,omitempty"`
	CancelRequested     bool             `json:"cancelRequested"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// BaseToken is the token whose USD price is compared with TargetPrice: the
// token being bought for BUY orders and the token being sold for SELL orders.
func (o LimitOrder) BaseToken() string {
	if o.OrderType == OrderBuy {
		return o.OutputToken
	}
	return o.InputToken
}

// Crossed reports whether price satisfies the order's direction rule.
func (o LimitOrder) Crossed(price decimal.Decimal) bool {
	switch o.OrderType {
	case OrderBuy:
		return price.LessThanOrEqual(o.TargetPrice)
	case OrderSell:
		return price.GreaterThanOrEqual(o.TargetPrice)
	}
	return false
}

// Remaining is the unfilled input amount.
func (o LimitOrder) Remaining() decimal.Decimal {
	r := o.InputAmount.Sub(o.FilledAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Expired reports whether the order is past its expiry without a full fill.
func (o LimitOrder) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) && o.FilledAmount.LessThan(o.InputAmount)
}

// NextFingerprint identifies the next execution attempt.
func (o LimitOrder) NextFingerprint() string {
	return fmt.Sprintf("order:%s:%d", o.ID, o.AttemptCount+1)
}

// ApplyFill adds a fill to the running totals and derives the status.
func (o *LimitOrder) ApplyFill(f LimitOrderFill) {
	o.FilledAmount = o.FilledAmount.Add(f.FillAmount)
	o.OutputReceived = o.OutputReceived.Add(f.OutputAmount)
	if o.InputAmount.IsPositive() {
		o.FillPercent = o.FilledAmount.Div(o.InputAmount).Mul(decimal.NewFromInt(100)).Round(4)
	}
	if o.FilledAmount.GreaterThanOrEqual(o.InputAmount) {
		o.Status = OrderFilled
	} else if o.FilledAmount.IsPositive() {
		o.Status = OrderPartiallyFilled
	}
}

// LimitOrderFill is an immutable record of one (partial) fill.
type LimitOrderFill struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"orderId"`
	Fingerprint  string          `json:"fingerprint"`
	SwapID       string          `json:"swapId"`
	FillAmount   decimal.Decimal `json:"fillAmount"`
	OutputAmount decimal.Decimal `json:"outputAmount"`
	Price        decimal.Decimal `json:"price"`
	TxHash       string          `json:"txHash,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
