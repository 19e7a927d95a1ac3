// Package memory implements the domain stores in process memory, for single
// process deployments and tests. Values are copied on the way in and out so
// callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// SwapStore implements domain.SwapStore.
type SwapStore struct {
	mu    sync.RWMutex
	byID  map[string]domain.Swap
	byFP  map[string]string
	nowFn func() time.Time
}

var _ domain.SwapStore = (*SwapStore)(nil)

// NewSwapStore creates an empty SwapStore.
func NewSwapStore() *SwapStore {
	return &SwapStore{
		byID:  make(map[string]domain.Swap),
		byFP:  make(map[string]string),
		nowFn: time.Now,
	}
}

func (s *SwapStore) Create(_ context.Context, sw domain.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[sw.ID]; ok {
		return fmt.Errorf("memory: create swap %s: %w", sw.ID, domain.ErrAlreadyExists)
	}
	if _, ok := s.byFP[sw.Fingerprint]; ok {
		return fmt.Errorf("memory: create swap %s: fingerprint %s: %w", sw.ID, sw.Fingerprint, domain.ErrAlreadyExists)
	}
	s.byID[sw.ID] = sw.Clone()
	s.byFP[sw.Fingerprint] = sw.ID
	return nil
}

// Update replaces the stored swap. A cancel request recorded meanwhile is
// never cleared by a writer holding an older copy.
func (s *SwapStore) Update(_ context.Context, sw domain.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[sw.ID]
	if !ok {
		return fmt.Errorf("memory: update swap %s: %w", sw.ID, domain.ErrNotFound)
	}
	sw = sw.Clone()
	sw.CancelRequested = sw.CancelRequested || cur.CancelRequested
	s.byID[sw.ID] = sw
	return nil
}

func (s *SwapStore) GetByID(_ context.Context, id string) (domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sw, ok := s.byID[id]
	if !ok {
		return domain.Swap{}, fmt.Errorf("memory: swap %s: %w", id, domain.ErrNotFound)
	}
	return sw.Clone(), nil
}

func (s *SwapStore) GetByFingerprint(_ context.Context, fingerprint string) (domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byFP[fingerprint]
	if !ok {
		return domain.Swap{}, fmt.Errorf("memory: swap fingerprint %s: %w", fingerprint, domain.ErrNotFound)
	}
	return s.byID[id].Clone(), nil
}

func (s *SwapStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Swap, error) {
	return s.filter(limit, func(sw domain.Swap) bool {
		if sw.NextAttemptAt != nil && sw.NextAttemptAt.After(now) {
			return false
		}
		if sw.RefundPending() {
			return true
		}
		return sw.Source == domain.SourceDirect && !sw.Status.Terminal()
	}), nil
}

func (s *SwapStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Swap, error) {
	out := s.filter(0, func(sw domain.Swap) bool {
		if sw.UserID != userID {
			return false
		}
		if opts.Since != nil && sw.CreatedAt.Before(*opts.Since) {
			return false
		}
		return opts.Until == nil || !sw.CreatedAt.After(*opts.Until)
	})
	// Newest first.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (s *SwapStore) ListTerminalBefore(_ context.Context, before time.Time, limit int) ([]domain.Swap, error) {
	return s.filter(limit, func(sw domain.Swap) bool {
		return sw.Status.Terminal() && !sw.RefundPending() &&
			sw.CompletedAt != nil && sw.CompletedAt.Before(before)
	}), nil
}

func (s *SwapStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if sw, ok := s.byID[id]; ok {
			delete(s.byFP, sw.Fingerprint)
			delete(s.byID, id)
		}
	}
	return nil
}

func (s *SwapStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: cancel swap %s: %w", id, domain.ErrNotFound)
	}
	if sw.Status.Terminal() {
		return fmt.Errorf("memory: cancel swap %s: %w: already %s", id, domain.ErrInvalidRequest, sw.Status)
	}
	sw.CancelRequested = true
	sw.UpdatedAt = s.nowFn().UTC()
	s.byID[id] = sw
	return nil
}

// filter returns matching swaps oldest first.
func (s *SwapStore) filter(limit int, keep func(domain.Swap) bool) []domain.Swap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Swap
	for _, sw := range s.byID {
		if keep(sw) {
			out = append(out, sw.Clone())
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
	return out
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
