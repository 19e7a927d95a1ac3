package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute, nil)

	tok, ok, err := m.TryAcquire(ctx, "dca:1", "dca:1:100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.Held("dca:1"))

	_, ok, err = m.TryAcquire(ctx, "dca:1", "dca:1:100")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Release(ctx, tok))
	assert.False(t, m.Held("dca:1"))

	_, ok, _ = m.TryAcquire(ctx, "dca:1", "dca:1:200")
	assert.True(t, ok)
}

func TestMemoryExpiredHolderReleased(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Minute, func() time.Time { return now })

	stale, ok, _ := m.TryAcquire(ctx, "order:1", "order:1:1")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	fresh, ok, _ := m.TryAcquire(ctx, "order:1", "order:1:1")
	require.True(t, ok)

	// The stale holder must not free the new owner's lock.
	require.NoError(t, m.Release(ctx, stale))
	assert.True(t, m.Held("order:1"))

	require.NoError(t, m.Release(ctx, fresh))
	assert.False(t, m.Held("order:1"))
}

func TestMemoryConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute, nil)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.TryAcquire(ctx, "swap:x", "swap:x"); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, winners.Load())
}
