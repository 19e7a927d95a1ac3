package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/lock"
	"github.com/alanyoungcy/swapengine/internal/metrics"
)

type stringHandler struct {
	items   []string
	process func(ctx context.Context, id string) (string, error)

	mu   sync.Mutex
	seen []string
}

func (h *stringHandler) Due(context.Context, time.Time, int) ([]string, error) { return h.items, nil }

func (h *stringHandler) Key(id string) (string, string) { return "test:" + id, "test:" + id + ":1" }

func (h *stringHandler) Process(ctx context.Context, id string) (string, error) {
	h.mu.Lock()
	h.seen = append(h.seen, id)
	h.mu.Unlock()
	if h.process == nil {
		return OutcomeExecuted, nil
	}
	return h.process(ctx, id)
}

func (h *stringHandler) processed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func TestLoopSkipsLockedEntities(t *testing.T) {
	locks := lock.NewMemory(time.Minute, nil)
	h := &stringHandler{items: []string{"a", "b", "c"}}
	loop := NewLoop[string]("test", LoopConfig{Workers: 2}, h, locks, nil, nil, metrics.New(), discardLogger())
	ctx := context.Background()

	tok, ok, err := locks.TryAcquire(ctx, "test:b", "elsewhere")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, loop.Tick(ctx))
	assert.ElementsMatch(t, []string{"a", "c"}, h.processed())
	assert.False(t, locks.Held("test:a"), "lock released after processing")

	require.NoError(t, locks.Release(ctx, tok))
	require.NoError(t, loop.Tick(ctx))
	assert.Contains(t, h.processed(), "b")
}

func TestLoopBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	items := make([]string, 12)
	for i := range items {
		items[i] = fmt.Sprint(i)
	}
	h := &stringHandler{items: items, process: func(context.Context, string) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return OutcomeExecuted, nil
	}}
	loop := NewLoop[string]("test", LoopConfig{Workers: 3}, h, nil, nil, nil, metrics.New(), discardLogger())

	require.NoError(t, loop.Tick(context.Background()))
	assert.Len(t, h.processed(), 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestLoopBacksOffTransientFailures(t *testing.T) {
	clk := newClock()
	fail := true
	h := &stringHandler{items: []string{"a"}, process: func(context.Context, string) (string, error) {
		if fail {
			return OutcomeTransient, fmt.Errorf("price: %w", domain.ErrQuoteUnavailable)
		}
		return OutcomeExecuted, nil
	}}
	backoff := NewBackoff(10*time.Second, time.Minute, clk.Now)
	loop := NewLoop[string]("test", LoopConfig{}, h, nil, backoff, clk.Now, metrics.New(), discardLogger())
	ctx := context.Background()

	require.NoError(t, loop.Tick(ctx))
	require.NoError(t, loop.Tick(ctx))
	assert.Len(t, h.processed(), 1, "deferred entity skipped on the next tick")

	clk.Advance(10 * time.Second)
	require.NoError(t, loop.Tick(ctx))
	assert.Len(t, h.processed(), 2)

	clk.Advance(10 * time.Second)
	require.NoError(t, loop.Tick(ctx))
	assert.Len(t, h.processed(), 2, "second failure doubles the wait")

	fail = false
	clk.Advance(10 * time.Second)
	require.NoError(t, loop.Tick(ctx))
	require.NoError(t, loop.Tick(ctx))
	assert.Len(t, h.processed(), 4, "success clears the backoff")
}

func TestLoopEntityTimeout(t *testing.T) {
	var sawDeadline atomic.Bool
	h := &stringHandler{items: []string{"a"}, process: func(ctx context.Context, _ string) (string, error) {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		return OutcomeNoop, nil
	}}
	loop := NewLoop[string]("test", LoopConfig{EntityTimeout: time.Second}, h, nil, nil, nil, metrics.New(), discardLogger())
	require.NoError(t, loop.Tick(context.Background()))
	assert.True(t, sawDeadline.Load())
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	h := &stringHandler{items: []string{"a"}}
	loop := NewLoop[string]("test", LoopConfig{Interval: 5 * time.Millisecond}, h, nil, nil, nil, metrics.New(), discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, len(h.processed()), 2)
	assert.Equal(t, "test", loop.Name())
}

func TestBackoffGrowthAndCleanup(t *testing.T) {
	clk := newClock()
	b := NewBackoff(time.Second, 5*time.Second, clk.Now)

	assert.True(t, b.Ready("x"))
	assert.Equal(t, time.Second, b.Defer("x"))
	assert.Equal(t, 2*time.Second, b.Defer("x"))
	assert.Equal(t, 4*time.Second, b.Defer("x"))
	assert.Equal(t, 5*time.Second, b.Defer("x"))
	assert.False(t, b.Ready("x"))

	clk.Advance(5 * time.Second)
	assert.True(t, b.Ready("x"))

	clk.Advance(5 * time.Second)
	b.Cleanup()
	assert.Equal(t, time.Second, b.Defer("x"), "cleanup forgets old failures")

	b.Reset("x")
	assert.True(t, b.Ready("x"))
}

type stubRunner struct {
	name string
	run  func(ctx context.Context) error
}

func (r stubRunner) Name() string                  { return r.name }
func (r stubRunner) Run(ctx context.Context) error { return r.run(ctx) }

func TestOrchestrator(t *testing.T) {
	waiter := stubRunner{name: "waiter", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewOrchestrator(discardLogger(), waiter, waiter).Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "clean shutdown")
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	broken := stubRunner{name: "broken", run: func(context.Context) error { return errors.New("boom") }}
	err := NewOrchestrator(discardLogger(), waiter, broken).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: boom")
}

type stubResumer struct {
	out domain.Swap
	err error
}

func (s stubResumer) Resume(context.Context, string) (domain.Swap, error) { return s.out, s.err }

func TestSwapLoopOutcomes(t *testing.T) {
	pending := domain.Swap{ID: "s1", Fingerprint: "swap:s1", Source: domain.SourceDirect, Status: domain.SwapPending}
	refunding := domain.Swap{ID: "s2", Fingerprint: "dca:d1:1", Status: domain.SwapFailed,
		Refund: &domain.Refund{Status: domain.RefundPending}}

	cases := []struct {
		name string
		in   domain.Swap
		res  stubResumer
		want string
	}{
		{"completed", pending, stubResumer{out: domain.Swap{Status: domain.SwapCompleted}}, OutcomeExecuted},
		{"failed", pending, stubResumer{out: domain.Swap{Status: domain.SwapFailed}}, OutcomeFailed},
		{"still running", pending, stubResumer{out: domain.Swap{Status: domain.SwapProcessing}}, OutcomeWaiting},
		{"refund settled", refunding, stubResumer{out: domain.Swap{Status: domain.SwapRefunded}}, OutcomeExecuted},
		{"refund pending", refunding, stubResumer{out: refunding}, OutcomeWaiting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := NewSwapLoop(nil, tc.res, discardLogger())
			got, err := l.Process(context.Background(), tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	l := NewSwapLoop(nil, stubResumer{err: domain.ErrLockHeld}, discardLogger())
	_, err := l.Process(context.Background(), pending)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	id, fp := l.Key(refunding)
	assert.Equal(t, "swap:dca:d1:1", id)
	assert.Equal(t, "dca:d1:1", fp)
}
