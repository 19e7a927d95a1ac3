package scheduler

import (
	"sync"
	"time"
)

type deferral struct {
	until    time.Time
	failures int
}

// Backoff keeps entities that hit transient errors out of the next ticks for
// an exponentially growing window. It is safe for concurrent use.
type Backoff struct {
	mu    sync.Mutex
	seen  map[string]deferral
	base  time.Duration
	max   time.Duration
	nowFn func() time.Time
}

// NewBackoff creates a Backoff. A nil nowFn uses time.Now.
func NewBackoff(base, max time.Duration, nowFn func() time.Time) *Backoff {
	if nowFn == nil {
		nowFn = time.Now
	}
	if max < base {
		max = base
	}
	return &Backoff{seen: make(map[string]deferral), base: base, max: max, nowFn: nowFn}
}

// Ready reports whether id may be processed now.
func (b *Backoff) Ready(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.seen[id]
	return !ok || !b.nowFn().Before(d.until)
}

// Defer records a transient failure for id and returns the wait before it is
// ready again.
func (b *Backoff) Defer(id string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.seen[id]
	wait := b.base
	for n := 0; n < d.failures && wait < b.max; n++ {
		wait *= 2
	}
	if wait > b.max {
		wait = b.max
	}
	d.failures++
	d.until = b.nowFn().Add(wait)
	b.seen[id] = d
	return wait
}

// Reset forgets id after a successful attempt.
func (b *Backoff) Reset(id string) {
	b.mu.Lock()
	delete(b.seen, id)
	b.mu.Unlock()
}

// Cleanup removes entries whose window passed long ago. Call it periodically
// to prevent unbounded growth.
func (b *Backoff) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.nowFn()
	for id, d := range b.seen {
		if now.Sub(d.until) >= b.max {
			delete(b.seen, id)
		}
	}
}
