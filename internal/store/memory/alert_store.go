package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// AlertStore implements domain.AlertStore.
type AlertStore struct {
	mu      sync.RWMutex
	alerts  map[string]domain.PriceAlert
	history map[string][]domain.AlertTrigger
	nowFn   func() time.Time
}

var _ domain.AlertStore = (*AlertStore)(nil)

// NewAlertStore creates an empty AlertStore.
func NewAlertStore() *AlertStore {
	return &AlertStore{
		alerts:  make(map[string]domain.PriceAlert),
		history: make(map[string][]domain.AlertTrigger),
		nowFn:   time.Now,
	}
}

func (s *AlertStore) Create(_ context.Context, a domain.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return fmt.Errorf("memory: create alert %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	s.alerts[a.ID] = a
	return nil
}

func (s *AlertStore) Update(_ context.Context, a domain.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(a)
}

func (s *AlertStore) updateLocked(a domain.PriceAlert) error {
	cur, ok := s.alerts[a.ID]
	if !ok {
		return fmt.Errorf("memory: update alert %s: %w", a.ID, domain.ErrNotFound)
	}
	a.CancelRequested = a.CancelRequested || cur.CancelRequested
	s.alerts[a.ID] = a
	return nil
}

func (s *AlertStore) GetByID(_ context.Context, id string) (domain.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.PriceAlert{}, fmt.Errorf("memory: alert %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *AlertStore) ListActive(_ context.Context, limit int) ([]domain.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PriceAlert
	for _, a := range s.alerts {
		if a.Status == domain.AlertActive {
			out = append(out, a)
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

func (s *AlertStore) ListHistory(_ context.Context, alertID string) ([]domain.AlertTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AlertTrigger(nil), s.history[alertID]...), nil
}

func (s *AlertStore) RecordTrigger(_ context.Context, a domain.PriceAlert, t domain.AlertTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prev := range s.history[a.ID] {
		if prev.Fingerprint == t.Fingerprint {
			return fmt.Errorf("memory: trigger %s: %w", t.Fingerprint, domain.ErrAlreadyExists)
		}
	}
	if err := s.updateLocked(a); err != nil {
		return err
	}
	s.history[a.ID] = append(s.history[a.ID], t)
	return nil
}

func (s *AlertStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("memory: cancel alert %s: %w", id, domain.ErrNotFound)
	}
	if a.Status != domain.AlertActive {
		return fmt.Errorf("memory: cancel alert %s: %w: already %s", id, domain.ErrInvalidRequest, a.Status)
	}
	a.CancelRequested = true
	a.UpdatedAt = s.nowFn().UTC()
	s.alerts[id] = a
	return nil
}
