package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// DCAStore implements domain.DCAStore.
type DCAStore struct {
	mu         sync.RWMutex
	strategies map[string]domain.DCAStrategy
	executions map[string]domain.DCAExecution // by fingerprint
	nowFn      func() time.Time
}

var _ domain.DCAStore = (*DCAStore)(nil)

// NewDCAStore creates an empty DCAStore.
func NewDCAStore() *DCAStore {
	return &DCAStore{
		strategies: make(map[string]domain.DCAStrategy),
		executions: make(map[string]domain.DCAExecution),
		nowFn:      time.Now,
	}
}

func (s *DCAStore) Create(_ context.Context, st domain.DCAStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strategies[st.ID]; ok {
		return fmt.Errorf("memory: create dca %s: %w", st.ID, domain.ErrAlreadyExists)
	}
	s.strategies[st.ID] = st
	return nil
}

func (s *DCAStore) Update(_ context.Context, st domain.DCAStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(st)
}

func (s *DCAStore) updateLocked(st domain.DCAStrategy) error {
	cur, ok := s.strategies[st.ID]
	if !ok {
		return fmt.Errorf("memory: update dca %s: %w", st.ID, domain.ErrNotFound)
	}
	st.CancelRequested = st.CancelRequested || cur.CancelRequested
	s.strategies[st.ID] = st
	return nil
}

func (s *DCAStore) GetByID(_ context.Context, id string) (domain.DCAStrategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[id]
	if !ok {
		return domain.DCAStrategy{}, fmt.Errorf("memory: dca %s: %w", id, domain.ErrNotFound)
	}
	return st, nil
}

// ListDue returns ACTIVE strategies whose slot is due and non-terminal ones
// with a pending cancel request, earliest slot first.
func (s *DCAStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.DCAStrategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DCAStrategy
	for _, st := range s.strategies {
		due := st.Status == domain.DCAActive && !st.NextExecutionAt.After(now)
		if due || (st.CancelRequested && !st.Status.Terminal()) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextExecutionAt.Equal(out[j].NextExecutionAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextExecutionAt.Before(out[j].NextExecutionAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *DCAStore) SaveExecution(_ context.Context, e domain.DCAExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.executions[e.Fingerprint]; ok {
		e.ID = cur.ID
		e.CreatedAt = cur.CreatedAt
	}
	s.executions[e.Fingerprint] = e
	return nil
}

func (s *DCAStore) GetExecution(_ context.Context, fingerprint string) (domain.DCAExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[fingerprint]
	if !ok {
		return domain.DCAExecution{}, fmt.Errorf("memory: dca execution %s: %w", fingerprint, domain.ErrNotFound)
	}
	return e, nil
}

func (s *DCAStore) ListExecutions(_ context.Context, strategyID string) ([]domain.DCAExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DCAExecution
	for _, e := range s.executions {
		if e.StrategyID == strategyID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionNumber < out[j].ExecutionNumber })
	return out, nil
}

func (s *DCAStore) RecordExecution(_ context.Context, st domain.DCAStrategy, e domain.DCAExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(st); err != nil {
		return err
	}
	if cur, ok := s.executions[e.Fingerprint]; ok {
		e.ID = cur.ID
		e.CreatedAt = cur.CreatedAt
	}
	s.executions[e.Fingerprint] = e
	return nil
}

func (s *DCAStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return fmt.Errorf("memory: cancel dca %s: %w", id, domain.ErrNotFound)
	}
	if st.Status.Terminal() {
		return fmt.Errorf("memory: cancel dca %s: %w: already %s", id, domain.ErrInvalidRequest, st.Status)
	}
	st.CancelRequested = true
	st.UpdatedAt = s.nowFn().UTC()
	s.strategies[id] = st
	return nil
}
