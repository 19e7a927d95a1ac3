package domain

import (
	"context"
	"time"
)

// LockToken proves ownership of an execution lock.
type LockToken struct {
	EntityID    string
	Fingerprint string
	Value       string
}

// ExecutionLock serializes attempts per entity. Failing to acquire is not an
// error: ok is false and the caller skips the entity for this tick.
type ExecutionLock interface {
	TryAcquire(ctx context.Context, entityID, fingerprint string) (LockToken, bool, error)
	Release(ctx context.Context, token LockToken) error
}

// PriceCache is a shared price tier consulted before hitting quote sources.
type PriceCache interface {
	SetPrice(ctx context.Context, key string, p Price, ttl time.Duration) error
	GetPrice(ctx context.Context, key string) (Price, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
