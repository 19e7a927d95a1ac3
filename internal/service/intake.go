// Package service holds the entity intake used by the HTTP API: it validates
// create requests, persists new entities, records cancellations and resumes
// paused DCA strategies. The tick loops in package scheduler do the rest.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// DCAResumer re-activates a paused strategy.
type DCAResumer interface {
	Resume(ctx context.Context, id string) (domain.DCAStrategy, error)
}

// Stores groups the persistence ports the intake writes to.
type Stores struct {
	Swaps    domain.SwapStore
	DCA      domain.DCAStore
	Orders   domain.LimitOrderStore
	Alerts   domain.AlertStore
	Contacts domain.ContactStore
	Audit    domain.AuditStore
}

// Created is the result of Create. Exactly one field matching Kind is set.
type Created struct {
	Kind       domain.EntityKind   `json:"kind"`
	Swap       *domain.Swap        `json:"swap,omitempty"`
	DCA        *domain.DCAStrategy `json:"dca,omitempty"`
	LimitOrder *domain.LimitOrder  `json:"limitOrder,omitempty"`
	Alert      *domain.PriceAlert  `json:"alert,omitempty"`
}

// Intake is the write side of the entity API.
type Intake struct {
	stores Stores
	quotes domain.QuotePort
	events domain.EventPublisher
	locks  domain.ExecutionLock
	dca    DCAResumer
	nowFn  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewIntake creates an Intake. dca may be nil when no scheduler runs in this
// process; ResumeDCA then fails.
func NewIntake(
	stores Stores,
	quotes domain.QuotePort,
	events domain.EventPublisher,
	locks domain.ExecutionLock,
	dca DCAResumer,
	logger *slog.Logger,
) *Intake {
	return &Intake{
		stores: stores,
		quotes: quotes,
		events: events,
		locks:  locks,
		dca:    dca,
		nowFn:  time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: logger.With(slog.String("component", "intake")),
	}
}

// Create validates req and persists the entity it describes.
func (s *Intake) Create(ctx context.Context, req domain.CreateRequest) (Created, error) {
	if err := req.Validate(); err != nil {
		return Created{}, err
	}
	id := s.newID()
	now := s.nowFn().UTC()
	out := Created{Kind: req.Kind}

	var userID string
	switch req.Kind {
	case domain.KindSwap:
		sw := req.Swap.Swap(id, now)
		if err := s.stores.Swaps.Create(ctx, sw); err != nil {
			return Created{}, fmt.Errorf("intake: create swap: %w", err)
		}
		s.events.Publish(domain.UserTopic(sw.UserID), domain.NewSwapEvent(sw, now))
		out.Swap, userID = &sw, sw.UserID

	case domain.KindDCA:
		st := req.DCA.Strategy(id, now)
		if err := s.stores.DCA.Create(ctx, st); err != nil {
			return Created{}, fmt.Errorf("intake: create dca: %w", err)
		}
		s.events.Publish(domain.UserTopic(st.UserID), domain.NewDCAEvent(st, now))
		out.DCA, userID = &st, st.UserID

	case domain.KindLimitOrder:
		o := req.LimitOrder.Order(id, now)
		if o.Expired(now) {
			return Created{}, fmt.Errorf("intake: %w: expiresAt is in the past", domain.ErrInvalidRequest)
		}
		if err := s.stores.Orders.Create(ctx, o); err != nil {
			return Created{}, fmt.Errorf("intake: create limit order: %w", err)
		}
		s.events.Publish(domain.UserTopic(o.UserID), domain.NewOrderEvent(o, now))
		out.LimitOrder, userID = &o, o.UserID

	case domain.KindAlert:
		base, err := s.basePrice(ctx, *req.Alert)
		if err != nil {
			return Created{}, err
		}
		a := req.Alert.Alert(id, base, now)
		if err := s.stores.Alerts.Create(ctx, a); err != nil {
			return Created{}, fmt.Errorf("intake: create alert: %w", err)
		}
		s.events.Publish(domain.UserTopic(a.UserID), domain.NewAlertEvent(a, now))
		out.Alert, userID = &a, a.UserID
	}

	s.audit(ctx, "entity.created", map[string]any{"kind": string(req.Kind), "id": id, "user_id": userID})
	s.logger.InfoContext(ctx, "entity created",
		slog.String("kind", string(req.Kind)),
		slog.String("entity_id", id),
		slog.String("user_id", userID),
	)
	return out, nil
}

// basePrice fetches the price a percent_change alert is measured against.
// Threshold alerts only use it as the initial LastPrice, so a failure there
// is not fatal.
func (s *Intake) basePrice(ctx context.Context, r domain.CreateAlertRequest) (decimal.Decimal, error) {
	p, err := s.quotes.GetPrice(ctx, r.ChainID, r.TokenAddress)
	if err != nil && !errors.Is(err, domain.ErrStaleData) {
		if r.AlertType == domain.AlertPercentChange {
			return decimal.Zero, fmt.Errorf("intake: base price for %s: %w", r.TokenAddress, err)
		}
		s.logger.WarnContext(ctx, "no price at alert creation",
			slog.String("token", r.TokenAddress),
			slog.String("error", err.Error()),
		)
		return decimal.Zero, nil
	}
	return p.Value, nil
}

// Cancel records a cancellation request. The owning loop applies it at its
// next safe checkpoint.
func (s *Intake) Cancel(ctx context.Context, kind domain.EntityKind, id string) error {
	var err error
	switch kind {
	case domain.KindSwap:
		err = s.stores.Swaps.RequestCancel(ctx, id)
	case domain.KindDCA:
		err = s.stores.DCA.RequestCancel(ctx, id)
	case domain.KindLimitOrder:
		err = s.stores.Orders.RequestCancel(ctx, id)
	case domain.KindAlert:
		err = s.stores.Alerts.RequestCancel(ctx, id)
	default:
		return fmt.Errorf("intake: %w: unknown kind %q", domain.ErrInvalidRequest, kind)
	}
	if err != nil {
		return fmt.Errorf("intake: cancel %s %s: %w", kind, id, err)
	}
	s.audit(ctx, "entity.cancel_requested", map[string]any{"kind": string(kind), "id": id})
	return nil
}

// ResumeDCA re-activates a PAUSED strategy under its execution lock.
func (s *Intake) ResumeDCA(ctx context.Context, id string) (domain.DCAStrategy, error) {
	if s.dca == nil {
		return domain.DCAStrategy{}, fmt.Errorf("intake: resume dca: scheduler not running in this process")
	}
	tok, ok, err := s.locks.TryAcquire(ctx, "dca:"+id, "resume:"+id)
	if err != nil {
		return domain.DCAStrategy{}, fmt.Errorf("intake: resume dca %s: %w", id, err)
	}
	if !ok {
		return domain.DCAStrategy{}, fmt.Errorf("intake: resume dca %s: %w", id, domain.ErrLockHeld)
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), tok); err != nil {
			s.logger.WarnContext(ctx, "release lock failed", slog.String("entity_id", id), slog.String("error", err.Error()))
		}
	}()

	st, err := s.dca.Resume(ctx, id)
	if err != nil {
		return st, fmt.Errorf("intake: resume dca %s: %w", id, err)
	}
	s.audit(ctx, "dca.resumed", map[string]any{"id": id})
	return st, nil
}

// UpsertContact stores a user's notification addresses.
func (s *Intake) UpsertContact(ctx context.Context, c domain.Contact) error {
	if c.UserID == "" {
		return fmt.Errorf("intake: %w: userId is required", domain.ErrInvalidRequest)
	}
	c.UpdatedAt = s.nowFn().UTC()
	if err := s.stores.Contacts.Upsert(ctx, c); err != nil {
		return fmt.Errorf("intake: upsert contact: %w", err)
	}
	return nil
}

func (s *Intake) audit(ctx context.Context, event string, detail map[string]any) {
	if s.stores.Audit == nil {
		return
	}
	if err := s.stores.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
