package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/lock"
	"github.com/alanyoungcy/swapengine/internal/metrics"
	"github.com/alanyoungcy/swapengine/internal/store/memory"
)

type dcaFixture struct {
	clk    *clock
	store  *memory.DCAStore
	exec   *fakeExecutor
	feed   *priceFeed
	events *recorder
	sched  *DCAScheduler
	loop   *Loop[domain.DCAStrategy]
}

func newDCAFixture(t *testing.T, cfg DCAConfig) *dcaFixture {
	t.Helper()
	f := &dcaFixture{
		clk:    newClock(),
		store:  memory.NewDCAStore(),
		exec:   &fakeExecutor{outcome: completesAt("2000")},
		feed:   &priceFeed{},
		events: &recorder{},
	}
	f.sched = NewDCAScheduler(f.store, f.exec, f.feed, f.events, cfg, f.clk.Now, discardLogger())
	f.loop = NewLoop[domain.DCAStrategy]("dca", LoopConfig{Interval: time.Second, Workers: 2},
		f.sched, lock.NewMemory(time.Minute, f.clk.Now), nil, f.clk.Now, metrics.New(), discardLogger())
	return f
}

func (f *dcaFixture) create(t *testing.T, req domain.CreateDCARequest) domain.DCAStrategy {
	t.Helper()
	require.NoError(t, req.Validate())
	s := req.Strategy("d1", f.clk.Now())
	require.NoError(t, f.store.Create(context.Background(), s))
	return s
}

func (f *dcaFixture) get(t *testing.T) domain.DCAStrategy {
	t.Helper()
	s, err := f.store.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	return s
}

func dailyPlan(total int) domain.CreateDCARequest {
	return domain.CreateDCARequest{
		UserID: "u1", InputToken: "USDC", OutputToken: "WETH", InputChainID: "1", OutputChainID: "1",
		AmountPerExecution: d("100"), Frequency: domain.FrequencyDaily, TotalExecutions: total,
		MaxSlippageBps: 50,
	}
}

func TestDCACompletesAfterAllExecutions(t *testing.T) {
	f := newDCAFixture(t, DCAConfig{PauseAfterFailures: 3})
	start := f.create(t, dailyPlan(3))
	ctx := context.Background()

	for day := range 3 {
		require.NoError(t, f.loop.Tick(ctx))
		s := f.get(t)
		assert.Equal(t, day+1, s.ExecutedCount)
		assert.Equal(t, start.NextExecutionAt.Add(time.Duration(day+1)*24*time.Hour), s.NextExecutionAt)

		// Ticking again the same day does nothing.
		require.NoError(t, f.loop.Tick(ctx))
		assert.Len(t, f.exec.calls(), day+1)
		f.clk.Advance(24 * time.Hour)
	}

	s := f.get(t)
	assert.Equal(t, domain.DCACompleted, s.Status)
	assert.Equal(t, 3, s.ExecutedCount)
	assert.True(t, s.TotalInputSpent.Equal(d("300")))
	assert.True(t, s.TotalOutputReceived.Equal(d("0.15")))
	assert.True(t, s.AveragePrice.Equal(d("2000")))

	require.NoError(t, f.loop.Tick(ctx))
	assert.Len(t, f.exec.calls(), 3, "completed strategy is never executed again")

	execs, err := f.store.ListExecutions(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, execs, 3)
	seen := map[string]bool{}
	for i, e := range execs {
		assert.Equal(t, i+1, e.ExecutionNumber)
		assert.Equal(t, domain.DCAExecCompleted, e.Status)
		assert.False(t, seen[e.Fingerprint], "fingerprints are unique per slot")
		seen[e.Fingerprint] = true
	}

	for _, req := range f.exec.calls() {
		assert.Equal(t, domain.SourceDCA, req.Source)
		assert.True(t, req.RequireFullFill)
		assert.True(t, req.Route.Amount.Equal(d("100")))
	}
	// EXECUTING and final snapshot per slot, each on the strategy and user topics.
	assert.Equal(t, 12, f.events.count(domain.EventDCAExecutionUpdate))
}

func TestDCAPausesAfterConsecutiveFailures(t *testing.T) {
	f := newDCAFixture(t, DCAConfig{PauseAfterFailures: 2})
	f.exec.outcome = failsWith("transaction reverted")
	start := f.create(t, dailyPlan(10))
	ctx := context.Background()

	require.NoError(t, f.loop.Tick(ctx))
	s := f.get(t)
	assert.Equal(t, domain.DCAActive, s.Status)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.Equal(t, "transaction reverted", s.LastError)

	f.clk.Advance(24 * time.Hour)
	require.NoError(t, f.loop.Tick(ctx))
	s = f.get(t)
	assert.Equal(t, domain.DCAPaused, s.Status)
	assert.Equal(t, 2, s.ConsecutiveFailures)

	f.clk.Advance(24 * time.Hour)
	require.NoError(t, f.loop.Tick(ctx))
	assert.Len(t, f.exec.calls(), 2, "paused strategy is not executed")

	f.clk.Advance(3*24*time.Hour + time.Hour)
	resumed, err := f.sched.Resume(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DCAActive, resumed.Status)
	assert.Equal(t, 0, resumed.ConsecutiveFailures)
	assert.Equal(t, start.NextExecutionAt.Add(6*24*time.Hour), resumed.NextExecutionAt, "missed slots are not replayed")
	assert.False(t, resumed.NextExecutionAt.Before(f.clk.Now()))

	_, err = f.sched.Resume(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestDCAAutoPauseDisabled(t *testing.T) {
	f := newDCAFixture(t, DCAConfig{})
	f.exec.outcome = failsWith("no route")
	f.create(t, dailyPlan(10))

	for range 4 {
		require.NoError(t, f.loop.Tick(context.Background()))
		f.clk.Advance(24 * time.Hour)
	}
	s := f.get(t)
	assert.Equal(t, domain.DCAActive, s.Status)
	assert.Equal(t, 4, s.ConsecutiveFailures)
}

func TestDCASkipsOnHighGas(t *testing.T) {
	f := newDCAFixture(t, DCAConfig{})
	plan := dailyPlan(2)
	plan.SkipOnHighGas = true
	plan.MaxGasUSD = d("5")
	start := f.create(t, plan)
	f.feed.gasUSD = d("12.5")
	ctx := context.Background()

	require.NoError(t, f.loop.Tick(ctx))
	assert.Empty(t, f.exec.calls())
	s := f.get(t)
	assert.Equal(t, 1, s.SkippedCount)
	assert.Equal(t, 0, s.ExecutedCount)
	assert.Equal(t, start.NextExecutionAt.Add(24*time.Hour), s.NextExecutionAt)

	e, err := f.store.GetExecution(ctx, start.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, domain.DCAExecSkipped, e.Status)
	assert.Contains(t, e.Error, "12.50")

	f.feed.gasUSD = d("1")
	f.clk.Advance(24 * time.Hour)
	require.NoError(t, f.loop.Tick(ctx))
	require.Len(t, f.exec.calls(), 1)
	s = f.get(t)
	assert.Equal(t, 1, s.ExecutedCount)
	assert.Equal(t, domain.DCAActive, s.Status, "skips do not consume executions")

	execs, err := f.store.ListExecutions(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, 2, execs[1].ExecutionNumber)
}

func TestDCARecoversInFlightExecution(t *testing.T) {
	f := newDCAFixture(t, DCAConfig{})
	start := f.create(t, dailyPlan(5))
	f.exec.outcome = errorsWith(fmt.Errorf("quote: %w", domain.ErrQuoteUnavailable))
	ctx := context.Background()

	outcome, err := f.sched.Process(ctx, start)
	require.Error(t, err)
	assert.Equal(t, OutcomeTransient, outcome)

	e, err := f.store.GetExecution(ctx, start.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, domain.DCAExecExecuting, e.Status)
	f.exec.inflight(start.Fingerprint())

	// A cancel arriving mid-flight waits for the in-flight slot.
	require.NoError(t, f.store.RequestCancel(ctx, "d1"))
	f.exec.outcome = completesAt("2000")
	f.clk.Advance(time.Hour)

	outcome, err = f.sched.Process(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)

	calls := f.exec.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Fingerprint, calls[1].Fingerprint, "recovery reuses the slot fingerprint")

	execs, err := f.store.ListExecutions(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.DCAExecCompleted, execs[0].Status)

	outcome, err = f.sched.Process(ctx, f.get(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminal, outcome)
	assert.Equal(t, domain.DCACancelled, f.get(t).Status)
	assert.Len(t, f.exec.calls(), 2)
}

func TestDCACancelDropsSlotThatStoredNoSwap(t *testing.T) {
	f := newDCAFixture(t, DCAConfig{})
	start := f.create(t, dailyPlan(5))
	f.exec.outcome = errorsWith(fmt.Errorf("quote: %w", domain.ErrQuoteUnavailable))
	ctx := context.Background()

	_, err := f.sched.Process(ctx, start)
	require.Error(t, err)
	require.NoError(t, f.store.RequestCancel(ctx, "d1"))
	f.exec.outcome = completesAt("2000")

	outcome, err := f.sched.Process(ctx, f.get(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminal, outcome)
	assert.Len(t, f.exec.calls(), 1, "the cancelled slot is not executed")

	s := f.get(t)
	assert.Equal(t, domain.DCACancelled, s.Status)
	assert.Zero(t, s.ExecutedCount)

	e, err := f.store.GetExecution(ctx, start.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, domain.DCAExecSkipped, e.Status)
	assert.Equal(t, "cancelled before execution", e.Error)
}

func TestDCATerminalExecutorError(t *testing.T) {
	f := newDCAFixture(t, DCAConfig{PauseAfterFailures: 3})
	start := f.create(t, dailyPlan(2))
	f.exec.outcome = errorsWith(fmt.Errorf("executor: plan: %w", domain.ErrNoRoute))

	outcome, err := f.sched.Process(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	s := f.get(t)
	assert.Equal(t, 1, s.ExecutedCount)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.Contains(t, s.LastError, "no route")

	e, err := f.store.GetExecution(context.Background(), start.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, domain.DCAExecFailed, e.Status)
}

func TestDCAKey(t *testing.T) {
	f := newDCAFixture(t, DCAConfig{})
	s := f.create(t, dailyPlan(1))
	id, fp := f.sched.Key(s)
	assert.Equal(t, "dca:d1", id)
	assert.Equal(t, fmt.Sprintf("dca:d1:%d", s.NextExecutionAt.Unix()), fp)
}
