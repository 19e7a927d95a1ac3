package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so an expired holder cannot release a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.ExecutionLock with SET NX PX. The TTL bounds
// how long a crashed worker can hold an entity.
type LockManager struct {
	c        *Client
	ttl      time.Duration
	unlockSc *redis.Script
}

var _ domain.ExecutionLock = (*LockManager)(nil)

// NewLockManager creates a LockManager whose locks expire after ttl.
func NewLockManager(c *Client, ttl time.Duration) *LockManager {
	return &LockManager{c: c, ttl: ttl, unlockSc: redis.NewScript(unlockLua)}
}

// TryAcquire claims entityID. The stored value carries the fingerprint so an
// operator inspecting Redis can see which attempt owns the entity.
func (lm *LockManager) TryAcquire(ctx context.Context, entityID, fingerprint string) (domain.LockToken, bool, error) {
	tok := domain.LockToken{
		EntityID:    entityID,
		Fingerprint: fingerprint,
		Value:       uuid.NewString() + "|" + fingerprint,
	}
	ok, err := lm.c.rdb.SetNX(ctx, lm.c.key("lock:", entityID), tok.Value, lm.ttl).Result()
	if err != nil {
		return domain.LockToken{}, false, fmt.Errorf("redis: acquire lock %s: %w", entityID, err)
	}
	if !ok {
		return domain.LockToken{}, false, nil
	}
	return tok, true, nil
}

// Release frees the lock if tok still owns it. A background context is used
// so release succeeds even when the caller's context is already cancelled.
func (lm *LockManager) Release(_ context.Context, tok domain.LockToken) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := lm.unlockSc.Run(ctx, lm.c.rdb, []string{lm.c.key("lock:", tok.EntityID)}, tok.Value).Err(); err != nil {
		return fmt.Errorf("redis: release lock %s: %w", tok.EntityID, err)
	}
	return nil
}
