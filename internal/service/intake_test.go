package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/lock"
	"github.com/alanyoungcy/swapengine/internal/store/memory"
)

var now = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type pricePort struct {
	price domain.Price
	err   error
}

func (p pricePort) GetQuote(context.Context, domain.Route, domain.QuoteOptions) (domain.Quote, error) {
	return domain.Quote{}, errors.New("not used")
}

func (p pricePort) GetPrice(context.Context, string, string) (domain.Price, error) {
	return p.price, p.err
}

type published struct {
	mu     sync.Mutex
	topics []domain.Topic
	events []domain.Event
}

func (p *published) Publish(topic domain.Topic, ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
}

type resumer struct {
	called []string
	err    error
}

func (r *resumer) Resume(_ context.Context, id string) (domain.DCAStrategy, error) {
	r.called = append(r.called, id)
	return domain.DCAStrategy{ID: id, Status: domain.DCAActive}, r.err
}

type fixture struct {
	intake *Intake
	stores Stores
	audit  *memory.AuditStore
	events *published
	locks  *lock.Memory
	dca    *resumer
}

func newFixture(t *testing.T, quotes domain.QuotePort) *fixture {
	t.Helper()
	audit := memory.NewAuditStore()
	f := &fixture{
		stores: Stores{
			Swaps:    memory.NewSwapStore(),
			DCA:      memory.NewDCAStore(),
			Orders:   memory.NewLimitOrderStore(),
			Alerts:   memory.NewAlertStore(),
			Contacts: memory.NewContactStore(),
			Audit:    audit,
		},
		audit:  audit,
		events: &published{},
		locks:  lock.NewMemory(time.Minute, nil),
		dca:    &resumer{},
	}
	f.intake = NewIntake(f.stores, quotes, f.events, f.locks, f.dca, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.intake.nowFn = func() time.Time { return now }
	f.intake.newID = func() string { return "id-1" }
	return f
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateSwap(t *testing.T) {
	f := newFixture(t, pricePort{})
	ctx := context.Background()
	out, err := f.intake.Create(ctx, domain.CreateRequest{Kind: domain.KindSwap, Swap: &domain.CreateSwapRequest{
		UserID: "u1", InputToken: "USDC", OutputToken: "WETH", InputChainID: "1", OutputChainID: "137",
		InputAmount: d("100"), MaxSlippageBps: 50,
	}})
	require.NoError(t, err)
	require.NotNil(t, out.Swap)
	assert.Equal(t, domain.KindSwap, out.Kind)
	assert.Equal(t, "swap:id-1", out.Swap.Fingerprint)
	assert.Equal(t, domain.SwapPending, out.Swap.Status)

	stored, err := f.stores.Swaps.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDirect, stored.Source)

	due, err := f.stores.Swaps.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	assert.Equal(t, []domain.Topic{"user:u1"}, f.events.topics)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entity.created", entries[0].Event)
	assert.Equal(t, "swap", entries[0].Detail["kind"])
}

func TestCreateRejectsInvalid(t *testing.T) {
	f := newFixture(t, pricePort{})
	_, err := f.intake.Create(context.Background(), domain.CreateRequest{Kind: domain.KindDCA, Swap: &domain.CreateSwapRequest{}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, f.events.topics)
}

func TestCreateDCA(t *testing.T) {
	f := newFixture(t, pricePort{})
	start := now.Add(48 * time.Hour)
	out, err := f.intake.Create(context.Background(), domain.CreateRequest{Kind: domain.KindDCA, DCA: &domain.CreateDCARequest{
		UserID: "u1", InputToken: "USDC", OutputToken: "WETH", InputChainID: "1", OutputChainID: "1",
		AmountPerExecution: d("10"), Frequency: domain.FrequencyDaily, TotalExecutions: 3, StartAt: &start,
	}})
	require.NoError(t, err)
	require.NotNil(t, out.DCA)
	assert.Equal(t, start, out.DCA.NextExecutionAt)
	assert.Equal(t, domain.DCAActive, out.DCA.Status)
}

func TestCreateLimitOrderRejectsPastExpiry(t *testing.T) {
	f := newFixture(t, pricePort{})
	past := now.Add(-time.Minute)
	req := domain.CreateRequest{Kind: domain.KindLimitOrder, LimitOrder: &domain.CreateLimitOrderRequest{
		UserID: "u1", OrderType: domain.OrderBuy, ChainID: "1", InputToken: "USDC", OutputToken: "WETH",
		InputAmount: d("1000"), TargetPrice: d("2000"), ExpiresAt: &past,
	}}
	_, err := f.intake.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	future := now.Add(time.Hour)
	req.LimitOrder.ExpiresAt = &future
	out, err := f.intake.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, out.LimitOrder.Status)
}

func alertRequest(typ domain.AlertType) domain.CreateRequest {
	return domain.CreateRequest{Kind: domain.KindAlert, Alert: &domain.CreateAlertRequest{
		UserID: "u1", ChainID: "1", TokenAddress: "0xweth", TokenSymbol: "WETH", AlertType: typ,
		TargetPrice: d("100"), TargetPercentChange: d("-10"), NotifyEmail: true,
	}}
}

func TestCreateAlertBasePrice(t *testing.T) {
	f := newFixture(t, pricePort{price: domain.Price{Value: d("2000"), AsOf: now}})
	out, err := f.intake.Create(context.Background(), alertRequest(domain.AlertPercentChange))
	require.NoError(t, err)
	assert.True(t, d("2000").Equal(out.Alert.PriceAtCreation))
	assert.True(t, d("2000").Equal(out.Alert.LastPrice))
}

func TestCreateAlertWithoutPrice(t *testing.T) {
	unavailable := pricePort{err: domain.ErrQuoteUnavailable}

	f := newFixture(t, unavailable)
	_, err := f.intake.Create(context.Background(), alertRequest(domain.AlertPercentChange))
	assert.ErrorIs(t, err, domain.ErrQuoteUnavailable)

	f = newFixture(t, unavailable)
	out, err := f.intake.Create(context.Background(), alertRequest(domain.AlertAbove))
	require.NoError(t, err)
	assert.True(t, out.Alert.PriceAtCreation.IsZero())

	stale := pricePort{price: domain.Price{Value: d("1900")}, err: domain.ErrStaleData}
	f = newFixture(t, stale)
	out, err = f.intake.Create(context.Background(), alertRequest(domain.AlertPercentChange))
	require.NoError(t, err)
	assert.True(t, d("1900").Equal(out.Alert.PriceAtCreation))
}

func TestCancel(t *testing.T) {
	f := newFixture(t, pricePort{})
	ctx := context.Background()
	_, err := f.intake.Create(ctx, domain.CreateRequest{Kind: domain.KindSwap, Swap: &domain.CreateSwapRequest{
		UserID: "u1", InputToken: "USDC", OutputToken: "WETH", InputChainID: "1", OutputChainID: "1", InputAmount: d("1"),
	}})
	require.NoError(t, err)

	require.NoError(t, f.intake.Cancel(ctx, domain.KindSwap, "id-1"))
	sw, err := f.stores.Swaps.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, sw.CancelRequested)
	assert.Equal(t, domain.SwapPending, sw.Status, "cancel is applied by the loop, not the API")

	assert.ErrorIs(t, f.intake.Cancel(ctx, domain.KindAlert, "missing"), domain.ErrNotFound)
	assert.ErrorIs(t, f.intake.Cancel(ctx, domain.EntityKind("bogus"), "id-1"), domain.ErrInvalidRequest)
}

func TestResumeDCA(t *testing.T) {
	f := newFixture(t, pricePort{})
	ctx := context.Background()

	st, err := f.intake.ResumeDCA(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DCAActive, st.Status)
	assert.Equal(t, []string{"d1"}, f.dca.called)
	assert.False(t, f.locks.Held("dca:d1"), "lock released after resume")

	tok, ok, err := f.locks.TryAcquire(ctx, "dca:d1", "dca:d1:1")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.intake.ResumeDCA(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	require.NoError(t, f.locks.Release(ctx, tok))

	f.dca.err = domain.ErrInvalidRequest
	_, err = f.intake.ResumeDCA(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	f.intake.dca = nil
	_, err = f.intake.ResumeDCA(ctx, "d1")
	assert.Error(t, err)
}

func TestUpsertContact(t *testing.T) {
	f := newFixture(t, pricePort{})
	ctx := context.Background()
	assert.ErrorIs(t, f.intake.UpsertContact(ctx, domain.Contact{}), domain.ErrInvalidRequest)

	require.NoError(t, f.intake.UpsertContact(ctx, domain.Contact{UserID: "u1", TelegramChatID: "42"}))
	c, err := f.stores.Contacts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "42", c.TelegramChatID)
	assert.Equal(t, now, c.UpdatedAt)
}
