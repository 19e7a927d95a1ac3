package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/executor"
	"github.com/alanyoungcy/swapengine/internal/lock"
	"github.com/alanyoungcy/swapengine/internal/metrics"
	"github.com/alanyoungcy/swapengine/internal/store/memory"
)

type orderFixture struct {
	clk     *clock
	store   *memory.LimitOrderStore
	exec    *fakeExecutor
	feed    *priceFeed
	events  *recorder
	monitor *LimitOrderMonitor
	loop    *Loop[domain.LimitOrder]
}

func newOrderFixture(t *testing.T, cfg LimitOrderConfig) *orderFixture {
	t.Helper()
	f := &orderFixture{
		clk:    newClock(),
		store:  memory.NewLimitOrderStore(),
		exec:   &fakeExecutor{outcome: completesAt("1999")},
		feed:   &priceFeed{},
		events: &recorder{},
	}
	f.monitor = NewLimitOrderMonitor(f.store, f.exec, f.feed, f.events, cfg, f.clk.Now, discardLogger())
	f.loop = NewLoop[domain.LimitOrder]("limit_order", LoopConfig{Interval: time.Second, Workers: 2},
		f.monitor, lock.NewMemory(time.Minute, f.clk.Now), nil, f.clk.Now, metrics.New(), discardLogger())
	return f
}

func buyOrder() domain.CreateLimitOrderRequest {
	return domain.CreateLimitOrderRequest{
		UserID: "u1", OrderType: domain.OrderBuy, ChainID: "1", InputToken: "USDC", OutputToken: "WETH",
		InputAmount: d("1000"), TargetPrice: d("2000"), MaxSlippageBps: 50,
	}
}

func (f *orderFixture) create(t *testing.T, req domain.CreateLimitOrderRequest) domain.LimitOrder {
	t.Helper()
	require.NoError(t, req.Validate())
	o := req.Order("o1", f.clk.Now())
	require.NoError(t, f.store.Create(context.Background(), o))
	return o
}

func (f *orderFixture) get(t *testing.T) domain.LimitOrder {
	t.Helper()
	o, err := f.store.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	return o
}

func TestLimitOrderFillsOnlyWhenPriceCrosses(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{MaxPriceAge: time.Minute})
	f.create(t, buyOrder())
	ctx := context.Background()

	for _, price := range []string{"2100", "2050"} {
		f.feed.set(price, f.clk.Now())
		require.NoError(t, f.loop.Tick(ctx))
		o := f.get(t)
		assert.Equal(t, domain.OrderPending, o.Status)
		assert.True(t, o.CurrentPrice.Equal(d(price)))
		assert.Empty(t, f.exec.calls())
		f.clk.Advance(10 * time.Second)
	}

	f.feed.set("1999", f.clk.Now())
	require.NoError(t, f.loop.Tick(ctx))

	calls := f.exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "order:o1:1", calls[0].Fingerprint)
	assert.Equal(t, domain.SourceLimitOrder, calls[0].Source)
	assert.True(t, calls[0].RequireFullFill)
	assert.True(t, calls[0].Route.Amount.Equal(d("1000")))

	o := f.get(t)
	assert.Equal(t, domain.OrderFilled, o.Status)
	assert.True(t, o.FillPercent.Equal(d("100")))
	assert.Empty(t, o.ActiveFingerprint)

	fills, err := f.store.ListFills(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "order:o1:1", fills[0].Fingerprint)
	assert.True(t, fills[0].Price.Round(2).Equal(d("1999")))
	assert.Equal(t, 2, f.events.count(domain.EventOrderFill))

	require.NoError(t, f.loop.Tick(ctx))
	assert.Len(t, f.exec.calls(), 1, "filled order leaves the pool")
}

func TestLimitOrderSellDirection(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{})
	req := buyOrder()
	req.OrderType = domain.OrderSell
	req.InputToken, req.OutputToken = "WETH", "USDC"
	req.InputAmount = d("1")
	o := f.create(t, req)

	f.feed.set("1999", f.clk.Now())
	outcome, err := f.monitor.Process(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, outcome)

	f.feed.set("2000", f.clk.Now())
	outcome, err = f.monitor.Process(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
}

func TestLimitOrderPartialFills(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{})
	req := buyOrder()
	req.PartialFillAllowed = true
	f.create(t, req)
	full := completesAt("1990")
	f.exec.outcome = func(r executor.Request) (domain.Swap, error) {
		s, err := full(r)
		if len(f.exec.calls()) == 1 {
			s.FilledInput = d("400")
			s.OutputAmount = d("0.2")
		}
		return s, err
	}
	f.feed.set("1990", f.clk.Now())
	ctx := context.Background()

	require.NoError(t, f.loop.Tick(ctx))
	o := f.get(t)
	assert.Equal(t, domain.OrderPartiallyFilled, o.Status)
	assert.True(t, o.FillPercent.Equal(d("40")))
	assert.True(t, o.Remaining().Equal(d("600")))

	require.NoError(t, f.loop.Tick(ctx))
	calls := f.exec.calls()
	require.Len(t, calls, 2)
	assert.False(t, calls[1].RequireFullFill)
	assert.Equal(t, "order:o1:2", calls[1].Fingerprint)
	assert.True(t, calls[1].Route.Amount.Equal(d("600")))

	o = f.get(t)
	assert.Equal(t, domain.OrderFilled, o.Status)
	assert.True(t, o.FilledAmount.Equal(d("1000")))

	fills, err := f.store.ListFills(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, fills, 2)
}

func TestLimitOrderExpires(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{})
	req := buyOrder()
	exp := f.clk.Now().Add(time.Hour)
	req.ExpiresAt = &exp
	f.create(t, req)
	f.feed.set("2100", f.clk.Now())

	require.NoError(t, f.loop.Tick(context.Background()))
	assert.Equal(t, domain.OrderPending, f.get(t).Status)

	f.clk.Advance(2 * time.Hour)
	f.feed.set("1500", f.clk.Now())
	require.NoError(t, f.loop.Tick(context.Background()))
	assert.Equal(t, domain.OrderExpired, f.get(t).Status)
	assert.Empty(t, f.exec.calls(), "expiry is checked before the price")
	assert.Equal(t, 2, f.events.count(domain.EventOrderUpdate))
}

func TestLimitOrderCancel(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{})
	f.create(t, buyOrder())
	require.NoError(t, f.store.RequestCancel(context.Background(), "o1"))
	f.feed.set("1000", f.clk.Now())

	require.NoError(t, f.loop.Tick(context.Background()))
	assert.Equal(t, domain.OrderCancelled, f.get(t).Status)
	assert.Empty(t, f.exec.calls())
}

func TestLimitOrderFailsAfterRepeatedFailures(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{FailAfter: 2})
	f.create(t, buyOrder())
	f.exec.outcome = failsWith("slippage exceeded")
	f.feed.set("1900", f.clk.Now())
	ctx := context.Background()

	require.NoError(t, f.loop.Tick(ctx))
	o := f.get(t)
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Equal(t, 1, o.ConsecutiveFailures)
	assert.Empty(t, o.ActiveFingerprint)

	require.NoError(t, f.loop.Tick(ctx))
	o = f.get(t)
	assert.Equal(t, domain.OrderFailed, o.Status)
	assert.Equal(t, "slippage exceeded", o.LastError)

	calls := f.exec.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "order:o1:1", calls[0].Fingerprint)
	assert.Equal(t, "order:o1:2", calls[1].Fingerprint)
}

func TestLimitOrderStalePrice(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{MaxPriceAge: time.Minute})
	o := f.create(t, buyOrder())
	ctx := context.Background()

	f.feed.set("1500", f.clk.Now().Add(-10*time.Minute))
	f.feed.err = fmt.Errorf("quote: %w", domain.ErrStaleData)
	outcome, err := f.monitor.Process(ctx, o)
	assert.Equal(t, OutcomeTransient, outcome)
	assert.True(t, domain.IsRetryable(err))
	assert.Empty(t, f.exec.calls())

	f.feed.mu.Lock()
	f.feed.asOf = f.clk.Now().Add(-30 * time.Second)
	f.feed.mu.Unlock()
	outcome, err = f.monitor.Process(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome, "stale within tolerance is accepted")
}

func TestLimitOrderResumesActiveAttempt(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{})
	o := f.create(t, buyOrder())
	o.ActiveFingerprint = "order:o1:1"
	o.AttemptCount = 1
	require.NoError(t, f.store.Update(context.Background(), o))
	f.exec.inflight("order:o1:1")
	f.feed.err = domain.ErrQuoteUnavailable

	outcome, err := f.monitor.Process(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
	assert.Equal(t, 0, f.feed.priceHit, "in-flight attempt skips the price check")

	calls := f.exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "order:o1:1", calls[0].Fingerprint)
	assert.Equal(t, domain.OrderFilled, f.get(t).Status)

	id, fp := f.monitor.Key(f.get(t))
	assert.Equal(t, "order:o1", id)
	assert.Equal(t, "order:o1:2", fp)
}

func TestLimitOrderRechecksPriceWhenAttemptStoredNothing(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{})
	o := f.create(t, buyOrder())
	ctx := context.Background()

	f.feed.set("1999", f.clk.Now())
	f.exec.outcome = errorsWith(fmt.Errorf("quote: %w", domain.ErrQuoteUnavailable))
	outcome, err := f.monitor.Process(ctx, o)
	require.Error(t, err)
	assert.Equal(t, OutcomeTransient, outcome)
	assert.Equal(t, "order:o1:1", f.get(t).ActiveFingerprint)

	f.clk.Advance(time.Minute)
	f.feed.set("2500", f.clk.Now())
	f.exec.outcome = completesAt("2500")
	outcome, err = f.monitor.Process(ctx, f.get(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, outcome)
	assert.Len(t, f.exec.calls(), 1, "price above a BUY target never executes")

	o = f.get(t)
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Empty(t, o.ActiveFingerprint)
	assert.True(t, o.FilledAmount.IsZero())
	fills, err := f.store.ListFills(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, fills)

	f.feed.set("1990", f.clk.Now())
	f.exec.outcome = completesAt("1990")
	outcome, err = f.monitor.Process(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
	calls := f.exec.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "order:o1:1", calls[1].Fingerprint, "nothing was stored under the first fingerprint")
}

func TestLimitOrderExpiresWhenAttemptStoredNothing(t *testing.T) {
	f := newOrderFixture(t, LimitOrderConfig{})
	req := buyOrder()
	exp := f.clk.Now().Add(time.Hour)
	req.ExpiresAt = &exp
	o := f.create(t, req)
	ctx := context.Background()

	f.feed.set("1999", f.clk.Now())
	f.exec.outcome = errorsWith(fmt.Errorf("quote: %w", domain.ErrQuoteUnavailable))
	_, err := f.monitor.Process(ctx, o)
	require.Error(t, err)

	f.clk.Advance(2 * time.Hour)
	f.feed.set("1500", f.clk.Now())
	f.exec.outcome = completesAt("1500")
	outcome, err := f.monitor.Process(ctx, f.get(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminal, outcome)
	assert.Equal(t, domain.OrderExpired, f.get(t).Status)
	assert.Len(t, f.exec.calls(), 1)
}
