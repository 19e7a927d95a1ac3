package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/executor"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(dur)
	c.mu.Unlock()
}

// fakeExecutor answers Execute with outcome and records every request. Swaps
// returned without error count as stored under their fingerprint; an error
// return stores nothing, like a failure while planning.
type fakeExecutor struct {
	mu       sync.Mutex
	outcome  func(req executor.Request) (domain.Swap, error)
	requests []executor.Request
	stored   map[string]domain.Swap
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.Request) (domain.Swap, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	s, err := f.outcome(req)
	if err == nil {
		f.store(req.Fingerprint, s)
	}
	return s, err
}

func (f *fakeExecutor) Lookup(_ context.Context, fingerprint string) (domain.Swap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stored[fingerprint]
	if !ok {
		return domain.Swap{}, fmt.Errorf("fake: swap %s: %w", fingerprint, domain.ErrNotFound)
	}
	return s, nil
}

// inflight records a swap that was stored and then interrupted.
func (f *fakeExecutor) inflight(fingerprint string) {
	f.store(fingerprint, domain.Swap{ID: uuid.NewString(), Fingerprint: fingerprint, Status: domain.SwapProcessing})
}

func (f *fakeExecutor) store(fingerprint string, s domain.Swap) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = make(map[string]domain.Swap)
	}
	f.stored[fingerprint] = s
}

func (f *fakeExecutor) calls() []executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Request(nil), f.requests...)
}

// completesAt fills the whole request at price (input per output).
func completesAt(price string) func(executor.Request) (domain.Swap, error) {
	return func(req executor.Request) (domain.Swap, error) {
		out := req.Route.Amount.Div(d(price))
		return domain.Swap{
			ID:           uuid.NewString(),
			Fingerprint:  req.Fingerprint,
			Status:       domain.SwapCompleted,
			InputAmount:  req.Route.Amount,
			FilledInput:  req.Route.Amount,
			OutputAmount: out,
			Steps:        []domain.SwapStep{{Status: domain.StepCompleted, TxHash: "0x" + req.Fingerprint}},
		}, nil
	}
}

func failsWith(reason string) func(executor.Request) (domain.Swap, error) {
	return func(req executor.Request) (domain.Swap, error) {
		return domain.Swap{ID: uuid.NewString(), Fingerprint: req.Fingerprint, Status: domain.SwapFailed, Error: reason}, nil
	}
}

func errorsWith(err error) func(executor.Request) (domain.Swap, error) {
	return func(executor.Request) (domain.Swap, error) { return domain.Swap{}, err }
}

// priceFeed is a QuotePort with a settable price and gas estimate.
type priceFeed struct {
	mu       sync.Mutex
	price    decimal.Decimal
	asOf     time.Time
	err      error
	gasUSD   decimal.Decimal
	priceHit int
}

func (p *priceFeed) set(price string, asOf time.Time) {
	p.mu.Lock()
	p.price, p.asOf, p.err = d(price), asOf, nil
	p.mu.Unlock()
}

func (p *priceFeed) GetQuote(_ context.Context, r domain.Route, _ domain.QuoteOptions) (domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.Quote{Route: r, OutputAmount: decimal.NewFromInt(1), GasUSD: p.gasUSD}, nil
}

func (p *priceFeed) GetPrice(context.Context, string, string) (domain.Price, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceHit++
	return domain.Price{Value: p.price, AsOf: p.asOf}, p.err
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ domain.Topic, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu   sync.Mutex
	fail map[domain.Channel]error
	sent []string
}

func (n *fakeNotifier) Notify(_ context.Context, userID string, ch domain.Channel, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[ch]; err != nil {
		return err
	}
	n.sent = append(n.sent, userID+"|"+string(ch)+"|"+msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}
