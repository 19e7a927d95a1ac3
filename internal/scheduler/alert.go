package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/metrics"
)

// AlertConfig tunes the alert engine.
type AlertConfig struct {
	MaxPriceAge   time.Duration
	NotifyTimeout time.Duration
}

// AlertEngine evaluates price alerts and fans notifications out. It never
// trades.
type AlertEngine struct {
	store    domain.AlertStore
	quotes   domain.QuotePort
	notifier domain.Notifier
	events   domain.EventPublisher
	cfg      AlertConfig
	nowFn    func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

var _ Handler[domain.PriceAlert] = (*AlertEngine)(nil)

// NewAlertEngine creates an AlertEngine. A nil nowFn uses time.Now.
func NewAlertEngine(
	store domain.AlertStore,
	quotes domain.QuotePort,
	notifier domain.Notifier,
	events domain.EventPublisher,
	cfg AlertConfig,
	nowFn func() time.Time,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AlertEngine {
	if nowFn == nil {
		nowFn = time.Now
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &AlertEngine{
		store:    store,
		quotes:   quotes,
		notifier: notifier,
		events:   events,
		cfg:      cfg,
		nowFn:    nowFn,
		metrics:  m,
		logger:   logger.With(slog.String("component", "alert_engine")),
	}
}

func (a *AlertEngine) Due(ctx context.Context, _ time.Time, limit int) ([]domain.PriceAlert, error) {
	return a.store.ListActive(ctx, limit)
}

func (a *AlertEngine) Key(al domain.PriceAlert) (string, string) {
	return "alert:" + al.ID, al.NextFingerprint()
}

// Process evaluates one alert and notifies when it fires.
func (a *AlertEngine) Process(ctx context.Context, listed domain.PriceAlert) (string, error) {
	al, err := a.store.GetByID(ctx, listed.ID)
	if err != nil {
		return OutcomeError, fmt.Errorf("alert: get %s: %w", listed.ID, err)
	}
	if al.Status != domain.AlertActive {
		return OutcomeNoop, nil
	}
	now := a.nowFn().UTC()

	if al.CancelRequested {
		return a.terminate(ctx, al, domain.AlertCancelled, now)
	}
	if al.ExpiresAt != nil && !now.Before(*al.ExpiresAt) {
		return a.terminate(ctx, al, domain.AlertExpired, now)
	}

	price, err := triggerPrice(ctx, a.quotes, al.ChainID, al.TokenAddress, a.cfg.MaxPriceAge, now)
	if err != nil {
		return OutcomeTransient, fmt.Errorf("alert: price %s: %w", al.TokenAddress, err)
	}
	priceChanged := !al.LastPrice.Equal(price.Value)
	al.LastPrice = price.Value

	if !al.Matches(price.Value) || (al.IsRecurring && al.CoolingDown(now)) {
		if priceChanged {
			al.UpdatedAt = now
			if err := a.store.Update(ctx, al); err != nil {
				return OutcomeError, fmt.Errorf("alert: update %s: %w", al.ID, err)
			}
		}
		if al.Matches(price.Value) {
			return OutcomeSkipped, nil
		}
		return OutcomeWaiting, nil
	}

	fp := al.NextFingerprint()
	msg := alertMessage(al, price)
	trigger := domain.AlertTrigger{
		ID:            uuid.NewString(),
		AlertID:       al.ID,
		Fingerprint:   fp,
		Price:         price.Value,
		ChangePercent: al.PercentChange(price.Value).Round(4),
		TriggeredAt:   now,
	}

	channels := al.Channels()
	var errs []error
	for _, ch := range channels {
		nctx, cancel := context.WithTimeout(ctx, a.cfg.NotifyTimeout)
		err := a.notifier.Notify(nctx, al.UserID, ch, msg)
		cancel()
		if err != nil {
			trigger.Failed = append(trigger.Failed, ch)
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			a.metrics.Notifications.WithLabelValues(string(ch), "error").Inc()
			continue
		}
		trigger.Delivered = append(trigger.Delivered, ch)
		a.metrics.Notifications.WithLabelValues(string(ch), "ok").Inc()
	}
	if len(channels) > 0 && len(trigger.Delivered) == 0 {
		// Nothing reached the user: leave the alert untouched for the next tick.
		return OutcomeTransient, fmt.Errorf("alert: %s: %w: %w", fp, domain.ErrRPC, errors.Join(errs...))
	}
	if len(errs) > 0 {
		a.logger.WarnContext(ctx, "some alert channels failed",
			slog.String("alert_id", al.ID),
			slog.String("fingerprint", fp),
			slog.String("error", errors.Join(errs...).Error()),
		)
	}

	al.TriggerCount++
	al.LastNotifiedAt = &now
	if !al.IsRecurring {
		al.Status = domain.AlertTriggered
	}
	al.UpdatedAt = now
	if err := a.store.RecordTrigger(ctx, al, trigger); err != nil {
		return OutcomeError, fmt.Errorf("alert: record trigger %s: %w", fp, err)
	}

	ev := domain.NewAlertTriggeredEvent(al, trigger, now)
	a.events.Publish(domain.AlertTopic(al.ID), ev)
	a.events.Publish(domain.UserTopic(al.UserID), ev)
	a.logger.InfoContext(ctx, "alert triggered",
		slog.String("alert_id", al.ID),
		slog.String("fingerprint", fp),
		slog.String("price", price.Value.String()),
		slog.Int("delivered", len(trigger.Delivered)),
	)
	return OutcomeExecuted, nil
}

func (a *AlertEngine) terminate(ctx context.Context, al domain.PriceAlert, status domain.AlertStatus, now time.Time) (string, error) {
	al.Status = status
	al.UpdatedAt = now
	if err := a.store.Update(ctx, al); err != nil {
		return OutcomeError, fmt.Errorf("alert: %s %s: %w", status, al.ID, err)
	}
	ev := domain.NewAlertEvent(al, now)
	a.events.Publish(domain.AlertTopic(al.ID), ev)
	a.events.Publish(domain.UserTopic(al.UserID), ev)
	return OutcomeTerminal, nil
}

func alertMessage(al domain.PriceAlert, p domain.Price) string {
	name := al.TokenSymbol
	if name == "" {
		name = al.TokenAddress
	}
	switch al.AlertType {
	case domain.AlertAbove:
		return fmt.Sprintf("%s is at %s, above your target of %s", name, p.Value.String(), al.TargetPrice.String())
	case domain.AlertBelow:
		return fmt.Sprintf("%s is at %s, below your target of %s", name, p.Value.String(), al.TargetPrice.String())
	default:
		return fmt.Sprintf("%s moved %s%% since your alert was set (now %s)",
			name, al.PercentChange(p.Value).StringFixed(2), p.Value.String())
	}
}
