package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType selects how an alert compares prices.
type AlertType string

const (
	AlertAbove         AlertType = "above"
	AlertBelow         AlertType = "below"
	AlertPercentChange AlertType = "percent_change"
)

// AlertStatus is the lifecycle of a price alert.
type AlertStatus string

const (
	AlertActive    AlertStatus = "ACTIVE"
	AlertTriggered AlertStatus = "TRIGGERED"
	AlertCancelled AlertStatus = "CANCELLED"
	AlertExpired   AlertStatus = "EXPIRED"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelPush     Channel = "push"
	ChannelTelegram Channel = "telegram"
)

// PriceAlert watches a token price and notifies; it never trades.
type PriceAlert struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"userId"`
	ChainID             string          `json:"chainId"`
	TokenAddress        string          `json:"tokenAddress"`
	TokenSymbol         string          `json:"tokenSymbol,omitempty"`
	AlertType           AlertType       `json:"alertType"`
	TargetPrice         decimal.Decimal `json:"targetPrice"`
	TargetPercentChange decimal.Decimal `json:"targetPercentChange"`
	PriceAtCreation     decimal.Decimal `json:"priceAtCreation"`
	IsRecurring         bool            `json:"isRecurring"`
	CooldownMinutes     int             `json:"cooldownMinutes"`
	NotifyEmail         bool            `json:"notifyEmail"`
	NotifyPush          bool            `json:"notifyPush"`
	NotifyTelegram      bool            `json:"notifyTelegram"`
	LastNotifiedAt      *time.Time      `json:"lastNotifiedAt,omitempty"`
	TriggerCount        int             `json:"triggerCount"`
	LastPrice           decimal.Decimal `json:"lastPrice"`
	ExpiresAt           *time.Time      `json:"expiresAt,omitempty"`
	Status              AlertStatus     `json:"status"`
	CancelRequested     bool            `json:"cancelRequested"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

var hundred = decimal.NewFromInt(100)

// PercentChange is (price - base) / base * 100 against PriceAtCreation.
func (a PriceAlert) PercentChange(price decimal.Decimal) decimal.Decimal {
	if a.PriceAtCreation.IsZero() {
		return decimal.Zero
	}
	return price.Sub(a.PriceAtCreation).Div(a.PriceAtCreation).Mul(hundred)
}

// Matches reports whether price satisfies the alert condition. A positive
// TargetPercentChange fires on rises of at least that much, a negative one on
// falls of at least that much.
func (a PriceAlert) Matches(price decimal.Decimal) bool {
	switch a.AlertType {
	case AlertAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case AlertBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	case AlertPercentChange:
		if a.PriceAtCreation.IsZero() || a.TargetPercentChange.IsZero() {
			return false
		}
		change := a.PercentChange(price)
		if a.TargetPercentChange.IsPositive() {
			return change.GreaterThanOrEqual(a.TargetPercentChange)
		}
		return change.LessThanOrEqual(a.TargetPercentChange)
	}
	return false
}

// CoolingDown reports whether a recurring alert is still inside its cooldown.
func (a PriceAlert) CoolingDown(now time.Time) bool {
	if a.LastNotifiedAt == nil {
		return false
	}
	return now.Sub(*a.LastNotifiedAt) < time.Duration(a.CooldownMinutes)*time.Minute
}

// Channels lists the enabled notification channels.
func (a PriceAlert) Channels() []Channel {
	var out []Channel
	if a.NotifyEmail {
		out = append(out, ChannelEmail)
	}
	if a.NotifyPush {
		out = append(out, ChannelPush)
	}
	if a.NotifyTelegram {
		out = append(out, ChannelTelegram)
	}
	return out
}

// NextFingerprint identifies the next trigger of this alert.
func (a PriceAlert) NextFingerprint() string {
	return fmt.Sprintf("alert:%s:%d", a.ID, a.TriggerCount+1)
}

// AlertTrigger is one history entry of a fired alert.
type AlertTrigger struct {
	ID            string          `json:"id"`
	AlertID       string          `json:"alertId"`
	Fingerprint   string          `json:"fingerprint"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Delivered     []Channel       `json:"delivered"`
	Failed        []Channel       `json:"failed,omitempty"`
	TriggeredAt   time.Time       `json:"triggeredAt"`
}
