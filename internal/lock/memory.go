// Package lock provides the in-process Execution Lock used when the engine
// runs as a single process.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

type holder struct {
	value       string
	fingerprint string
	expiresAt   time.Time
}

// Memory is a TTL-bounded lock table keyed by entity id. An expired holder is
// treated as released so a crashed attempt cannot wedge an entity.
type Memory struct {
	mu    sync.Mutex
	held  map[string]holder
	ttl   time.Duration
	nowFn func() time.Time
}

var _ domain.ExecutionLock = (*Memory)(nil)

// NewMemory creates a lock table. A nil nowFn uses time.Now.
func NewMemory(ttl time.Duration, nowFn func() time.Time) *Memory {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Memory{held: make(map[string]holder), ttl: ttl, nowFn: nowFn}
}

// TryAcquire claims entityID for one attempt identified by fingerprint.
func (m *Memory) TryAcquire(_ context.Context, entityID, fingerprint string) (domain.LockToken, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if h, ok := m.held[entityID]; ok && now.Before(h.expiresAt) {
		return domain.LockToken{}, false, nil
	}
	tok := domain.LockToken{EntityID: entityID, Fingerprint: fingerprint, Value: uuid.NewString()}
	m.held[entityID] = holder{value: tok.Value, fingerprint: fingerprint, expiresAt: now.Add(m.ttl)}
	return tok, true, nil
}

// Release frees the entity if token still owns it. Releasing a lock that has
// expired and been re-acquired by someone else is a no-op.
func (m *Memory) Release(_ context.Context, tok domain.LockToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.held[tok.EntityID]; ok && h.value == tok.Value {
		delete(m.held, tok.EntityID)
	}
	return nil
}

// Held reports whether entityID is currently locked.
func (m *Memory) Held(entityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.held[entityID]
	return ok && m.nowFn().Before(h.expiresAt)
}
