package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// LimitOrderStore implements domain.LimitOrderStore.
type LimitOrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.LimitOrder
	fills  map[string][]domain.LimitOrderFill // by order id
	fps    map[string]struct{}
	nowFn  func() time.Time
}

var _ domain.LimitOrderStore = (*LimitOrderStore)(nil)

// NewLimitOrderStore creates an empty LimitOrderStore.
func NewLimitOrderStore() *LimitOrderStore {
	return &LimitOrderStore{
		orders: make(map[string]domain.LimitOrder),
		fills:  make(map[string][]domain.LimitOrderFill),
		fps:    make(map[string]struct{}),
		nowFn:  time.Now,
	}
}

func (s *LimitOrderStore) Create(_ context.Context, o domain.LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("memory: create order %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *LimitOrderStore) Update(_ context.Context, o domain.LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(o)
}

func (s *LimitOrderStore) updateLocked(o domain.LimitOrder) error {
	cur, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("memory: update order %s: %w", o.ID, domain.ErrNotFound)
	}
	o.CancelRequested = o.CancelRequested || cur.CancelRequested
	s.orders[o.ID] = o
	return nil
}

func (s *LimitOrderStore) GetByID(_ context.Context, id string) (domain.LimitOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.LimitOrder{}, fmt.Errorf("memory: order %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

// ListOpen returns PENDING and PARTIALLY_FILLED orders, oldest first.
func (s *LimitOrderStore) ListOpen(_ context.Context, limit int) ([]domain.LimitOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LimitOrder
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LimitOrderStore) ListFills(_ context.Context, orderID string) ([]domain.LimitOrderFill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LimitOrderFill(nil), s.fills[orderID]...), nil
}

func (s *LimitOrderStore) RecordFill(_ context.Context, o domain.LimitOrder, f domain.LimitOrderFill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.fps[f.Fingerprint]; dup {
		return fmt.Errorf("memory: fill %s: %w", f.Fingerprint, domain.ErrAlreadyExists)
	}
	if err := s.updateLocked(o); err != nil {
		return err
	}
	s.fps[f.Fingerprint] = struct{}{}
	s.fills[o.ID] = append(s.fills[o.ID], f)
	return nil
}

func (s *LimitOrderStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("memory: cancel order %s: %w", id, domain.ErrNotFound)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("memory: cancel order %s: %w: already %s", id, domain.ErrInvalidRequest, o.Status)
	}
	o.CancelRequested = true
	o.UpdatedAt = s.nowFn().UTC()
	s.orders[id] = o
	return nil
}
