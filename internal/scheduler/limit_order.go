package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/executor"
)

// LimitOrderConfig tunes the limit order monitor.
type LimitOrderConfig struct {
	// MaxPriceAge is how stale a price may be for trigger evaluation.
	MaxPriceAge time.Duration
	// FailAfter moves an order to FAILED after this many consecutive failed
	// execution attempts. Zero keeps retrying on later crossings.
	FailAfter int
}

// LimitOrderMonitor watches open limit orders and executes them on a price
// crossing.
type LimitOrderMonitor struct {
	store  domain.LimitOrderStore
	exec   SwapExecutor
	quotes domain.QuotePort
	events domain.EventPublisher
	cfg    LimitOrderConfig
	nowFn  func() time.Time
	logger *slog.Logger
}

var _ Handler[domain.LimitOrder] = (*LimitOrderMonitor)(nil)

// NewLimitOrderMonitor creates a LimitOrderMonitor. A nil nowFn uses time.Now.
func NewLimitOrderMonitor(
	store domain.LimitOrderStore,
	exec SwapExecutor,
	quotes domain.QuotePort,
	events domain.EventPublisher,
	cfg LimitOrderConfig,
	nowFn func() time.Time,
	logger *slog.Logger,
) *LimitOrderMonitor {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &LimitOrderMonitor{
		store:  store,
		exec:   exec,
		quotes: quotes,
		events: events,
		cfg:    cfg,
		nowFn:  nowFn,
		logger: logger.With(slog.String("component", "limit_order_monitor")),
	}
}

func (m *LimitOrderMonitor) Due(ctx context.Context, _ time.Time, limit int) ([]domain.LimitOrder, error) {
	return m.store.ListOpen(ctx, limit)
}

func (m *LimitOrderMonitor) Key(o domain.LimitOrder) (string, string) {
	fp := o.ActiveFingerprint
	if fp == "" {
		fp = o.NextFingerprint()
	}
	return "order:" + o.ID, fp
}

// Process evaluates one order: an attempt interrupted after its swap was
// stored is finished first, then cancellation, expiry and the price crossing
// are checked in that order.
func (m *LimitOrderMonitor) Process(ctx context.Context, listed domain.LimitOrder) (string, error) {
	o, err := m.store.GetByID(ctx, listed.ID)
	if err != nil {
		return OutcomeError, fmt.Errorf("limit_order: get %s: %w", listed.ID, err)
	}
	if o.Status.Terminal() {
		return OutcomeNoop, nil
	}
	now := m.nowFn().UTC()

	// An attempt that never persisted a swap committed nothing. It is dropped,
	// and its fingerprint reused, so cancel, expiry and price are checked
	// again before anything executes.
	if fp := o.ActiveFingerprint; fp != "" {
		_, err := m.exec.Lookup(ctx, fp)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			o.ActiveFingerprint = ""
			o.AttemptCount--
		case err != nil:
			return OutcomeError, fmt.Errorf("limit_order: lookup swap %s: %w", fp, err)
		}
	}

	if o.ActiveFingerprint == "" {
		if o.CancelRequested {
			return m.terminate(ctx, o, domain.OrderCancelled, now)
		}
		if o.Expired(now) {
			return m.terminate(ctx, o, domain.OrderExpired, now)
		}

		price, err := triggerPrice(ctx, m.quotes, o.ChainID, o.BaseToken(), m.cfg.MaxPriceAge, now)
		if err != nil {
			return OutcomeTransient, fmt.Errorf("limit_order: price %s: %w", o.BaseToken(), err)
		}
		o.CurrentPrice = price.Value
		o.LastCheckedAt = &now
		if !o.Crossed(price.Value) {
			o.UpdatedAt = now
			if err := m.store.Update(ctx, o); err != nil {
				return OutcomeError, fmt.Errorf("limit_order: update %s: %w", o.ID, err)
			}
			return OutcomeWaiting, nil
		}

		// Persist the attempt before executing so a crash resumes it.
		o.ActiveFingerprint = o.NextFingerprint()
		o.AttemptCount++
		o.UpdatedAt = now
		if err := m.store.Update(ctx, o); err != nil {
			return OutcomeError, fmt.Errorf("limit_order: update %s: %w", o.ID, err)
		}
		m.logger.InfoContext(ctx, "limit price crossed",
			slog.String("order_id", o.ID),
			slog.String("fingerprint", o.ActiveFingerprint),
			slog.String("price", price.Value.String()),
			slog.String("target", o.TargetPrice.String()),
		)
	}

	fp := o.ActiveFingerprint
	swap, err := m.exec.Execute(ctx, executor.Request{
		Fingerprint: fp,
		UserID:      o.UserID,
		Source:      domain.SourceLimitOrder,
		SourceID:    o.ID,
		Route: domain.Route{
			FromChainID: o.ChainID,
			ToChainID:   o.ChainID,
			FromToken:   o.InputToken,
			ToToken:     o.OutputToken,
			Amount:      o.Remaining(),
			SlippageBps: o.MaxSlippageBps,
		},
		RequireFullFill: !o.PartialFillAllowed,
	})
	if err != nil {
		if !domain.IsTerminal(err) {
			return OutcomeTransient, err
		}
		return m.fail(ctx, o, err.Error())
	}

	switch swap.Status {
	case domain.SwapCompleted:
		return m.fill(ctx, o, swap)
	case domain.SwapFailed, domain.SwapRefunded:
		return m.fail(ctx, o, swap.Error)
	}
	return OutcomeTransient, fmt.Errorf("limit_order: swap %s still %s: %w", swap.ID, swap.Status, domain.ErrTimeout)
}

func (m *LimitOrderMonitor) fill(ctx context.Context, o domain.LimitOrder, swap domain.Swap) (string, error) {
	now := m.nowFn().UTC()
	amount := swap.FilledInput
	if !amount.IsPositive() {
		amount = swap.InputAmount
	}
	if rem := o.Remaining(); amount.GreaterThan(rem) {
		amount = rem
	}

	f := domain.LimitOrderFill{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		Fingerprint:  o.ActiveFingerprint,
		SwapID:       swap.ID,
		FillAmount:   amount,
		OutputAmount: swap.OutputAmount,
		Price:        fillPrice(o.OrderType, amount, swap.OutputAmount),
		CreatedAt:    now,
	}
	if n := len(swap.Steps); n > 0 {
		f.TxHash = swap.Steps[n-1].TxHash
	}

	o.ApplyFill(f)
	o.ActiveFingerprint = ""
	o.ConsecutiveFailures = 0
	o.LastError = ""
	o.UpdatedAt = now
	if err := m.store.RecordFill(ctx, o, f); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			m.logger.WarnContext(ctx, "fill already recorded", slog.String("fingerprint", f.Fingerprint))
			return OutcomeNoop, nil
		}
		return OutcomeError, fmt.Errorf("limit_order: record fill %s: %w", f.Fingerprint, err)
	}

	ev := domain.NewOrderFillEvent(o, f, now)
	m.events.Publish(domain.OrderTopic(o.ID), ev)
	m.events.Publish(domain.UserTopic(o.UserID), ev)
	m.logger.InfoContext(ctx, "limit order filled",
		slog.String("order_id", o.ID),
		slog.String("fill", f.FillAmount.String()),
		slog.String("fill_percent", o.FillPercent.String()),
		slog.String("status", string(o.Status)),
	)
	return OutcomeExecuted, nil
}

// fail clears the attempt; the order stays open for the next crossing unless
// it has failed FailAfter times in a row.
func (m *LimitOrderMonitor) fail(ctx context.Context, o domain.LimitOrder, reason string) (string, error) {
	now := m.nowFn().UTC()
	fp := o.ActiveFingerprint
	o.ActiveFingerprint = ""
	o.ConsecutiveFailures++
	o.LastError = reason
	if m.cfg.FailAfter > 0 && o.ConsecutiveFailures >= m.cfg.FailAfter {
		o.Status = domain.OrderFailed
	}
	o.UpdatedAt = now
	if err := m.store.Update(ctx, o); err != nil {
		return OutcomeError, fmt.Errorf("limit_order: update %s: %w", o.ID, err)
	}
	m.publish(o, now)
	m.logger.WarnContext(ctx, "limit order attempt failed",
		slog.String("order_id", o.ID),
		slog.String("fingerprint", fp),
		slog.Int("consecutive_failures", o.ConsecutiveFailures),
		slog.String("error", reason),
	)
	return OutcomeFailed, nil
}

func (m *LimitOrderMonitor) terminate(ctx context.Context, o domain.LimitOrder, status domain.LimitOrderStatus, now time.Time) (string, error) {
	o.Status = status
	o.UpdatedAt = now
	if err := m.store.Update(ctx, o); err != nil {
		return OutcomeError, fmt.Errorf("limit_order: %s %s: %w", status, o.ID, err)
	}
	m.publish(o, now)
	m.logger.InfoContext(ctx, "limit order closed",
		slog.String("order_id", o.ID),
		slog.String("status", string(status)),
		slog.String("filled", o.FilledAmount.String()),
	)
	return OutcomeTerminal, nil
}

func (m *LimitOrderMonitor) publish(o domain.LimitOrder, now time.Time) {
	ev := domain.NewOrderEvent(o, now)
	m.events.Publish(domain.OrderTopic(o.ID), ev)
	m.events.Publish(domain.UserTopic(o.UserID), ev)
}

// fillPrice expresses the execution price of the base token in units of the
// quote token.
func fillPrice(t domain.OrderType, in, out decimal.Decimal) decimal.Decimal {
	if t == domain.OrderBuy {
		if out.IsPositive() {
			return in.Div(out)
		}
		return decimal.Zero
	}
	if in.IsPositive() {
		return out.Div(in)
	}
	return decimal.Zero
}
