// Package quote implements the Quote/Price Port on top of one or more
// external aggregator adapters.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/metrics"
)

// Config tunes caching, throttling and staleness.
type Config struct {
	QuoteTTL      time.Duration
	PriceTTL      time.Duration
	MaxEntries    int
	CallTimeout   time.Duration
	MaxPriceAge   time.Duration
	RatePerSecond float64
	Burst         int
	// SharedLimit and SharedWindow bound calls per source across all
	// processes when a distributed limiter is attached.
	SharedLimit  int
	SharedWindow time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now for cache expiry and staleness checks.
func WithClock(nowFn func() time.Time) Option {
	return func(s *Service) { s.nowFn = nowFn }
}

// WithSharedPriceCache adds a shared price tier consulted before the sources.
func WithSharedPriceCache(pc domain.PriceCache) Option {
	return func(s *Service) { s.shared = pc }
}

// WithDistributedLimiter throttles source calls across processes.
func WithDistributedLimiter(rl domain.RateLimiter) Option {
	return func(s *Service) { s.remote = rl }
}

// Service is the Quote/Price Port.
type Service struct {
	sources  []domain.QuoteSource
	limiters map[string]*rate.Limiter
	remote   domain.RateLimiter
	shared   domain.PriceCache
	quotes   *TTLCache[domain.Quote]
	prices   *TTLCache[domain.Price]
	cfg      Config
	nowFn    func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

var _ domain.QuotePort = (*Service)(nil)

// NewService wraps sources behind caching and per-source throttling.
func NewService(sources []domain.QuoteSource, cfg Config, m *metrics.Metrics, logger *slog.Logger, opts ...Option) (*Service, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("quote: at least one source required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	s := &Service{
		sources:  append([]domain.QuoteSource{}, sources...),
		limiters: make(map[string]*rate.Limiter, len(sources)),
		cfg:      cfg,
		nowFn:    time.Now,
		metrics:  m,
		logger:   logger.With(slog.String("component", "quote")),
	}
	for _, opt := range opts {
		opt(s)
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	for _, src := range s.sources {
		s.limiters[src.Name()] = rate.NewLimiter(limit, cfg.Burst)
	}
	s.quotes = NewTTLCache[domain.Quote](cfg.QuoteTTL, cfg.MaxEntries, s.nowFn)
	s.prices = NewTTLCache[domain.Price](cfg.PriceTTL, cfg.MaxEntries, s.nowFn)
	return s, nil
}

// GetQuote returns the best-output quote across all sources. Unless
// opts.Fresh is set, a quote younger than QuoteTTL is served from cache.
func (s *Service) GetQuote(ctx context.Context, r domain.Route, opts domain.QuoteOptions) (domain.Quote, error) {
	key := r.Key()
	if !opts.Fresh {
		if q, ok := s.quotes.Get(key); ok {
			s.metrics.CacheLookups.WithLabelValues("quote", "local", "hit").Inc()
			return q, nil
		}
		s.metrics.CacheLookups.WithLabelValues("quote", "local", "miss").Inc()
	}

	quotes := make([]domain.Quote, len(s.sources))
	errs := make([]error, len(s.sources))
	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			err := s.call(ctx, src.Name(), "quote", func(cctx context.Context) error {
				q, err := src.Quote(cctx, r)
				if err == nil && !q.OutputAmount.IsPositive() {
					err = fmt.Errorf("%w: %s returned non-positive output", domain.ErrNoRoute, src.Name())
				}
				quotes[i] = q
				return err
			})
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	for i := range quotes {
		if errs[i] != nil {
			continue
		}
		if best < 0 || quotes[i].OutputAmount.GreaterThan(quotes[best].OutputAmount) {
			best = i
		}
	}
	if best < 0 {
		return domain.Quote{}, classify(errs)
	}

	q := quotes[best]
	if q.Source == "" {
		q.Source = s.sources[best].Name()
	}
	if q.AsOf.IsZero() {
		q.AsOf = s.nowFn()
	}
	q.Route = r
	s.quotes.Set(key, q)
	return q, nil
}

// GetPrice returns the USD price of token on chainID. When only observations
// older than MaxPriceAge are available the price is still returned, together
// with an error wrapping domain.ErrStaleData.
func (s *Service) GetPrice(ctx context.Context, chainID, token string) (domain.Price, error) {
	key := domain.PriceKey(chainID, token)
	if p, ok := s.prices.Get(key); ok {
		s.metrics.CacheLookups.WithLabelValues("price", "local", "hit").Inc()
		return p, s.staleness(p)
	}
	s.metrics.CacheLookups.WithLabelValues("price", "local", "miss").Inc()

	if s.shared != nil {
		p, err := s.shared.GetPrice(ctx, key)
		switch {
		case err == nil && s.nowFn().Sub(p.AsOf) < s.cfg.PriceTTL:
			s.metrics.CacheLookups.WithLabelValues("price", "shared", "hit").Inc()
			s.prices.Set(key, p)
			return p, s.staleness(p)
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "shared price cache read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		default:
			s.metrics.CacheLookups.WithLabelValues("price", "shared", "miss").Inc()
		}
	}

	obs := make([]domain.Price, len(s.sources))
	errs := make([]error, len(s.sources))
	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			errs[i] = s.call(ctx, src.Name(), "price", func(cctx context.Context) error {
				p, err := src.Price(cctx, chainID, token)
				if err == nil && !p.Value.IsPositive() {
					err = fmt.Errorf("%w: %s returned non-positive price", domain.ErrQuoteUnavailable, src.Name())
				}
				if p.Source == "" {
					p.Source = src.Name()
				}
				obs[i] = p
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	now := s.nowFn()
	var fresh, stale []domain.Price
	for i, p := range obs {
		if errs[i] != nil {
			continue
		}
		if p.AsOf.IsZero() {
			p.AsOf = now
		}
		if p.AsOf.After(now.Add(5 * time.Second)) {
			s.logger.WarnContext(ctx, "source produced future timestamp", slog.String("source", p.Source))
			continue
		}
		if s.cfg.MaxPriceAge > 0 && now.Sub(p.AsOf) > s.cfg.MaxPriceAge {
			stale = append(stale, p)
			continue
		}
		fresh = append(fresh, p)
	}

	switch {
	case len(fresh) > 0:
		p := median(fresh)
		s.prices.Set(key, p)
		if s.shared != nil {
			if err := s.shared.SetPrice(ctx, key, p, s.cfg.PriceTTL); err != nil {
				s.logger.WarnContext(ctx, "shared price cache write failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		}
		return p, nil
	case len(stale) > 0:
		p := median(stale)
		return p, s.staleness(p)
	}
	return domain.Price{}, classify(errs)
}

// call runs fn against one source with throttling, a timeout and metrics.
func (s *Service) call(ctx context.Context, source, op string, fn func(context.Context) error) error {
	if s.remote != nil && s.cfg.SharedLimit > 0 {
		ok, err := s.remote.Allow(ctx, "quote:"+source, s.cfg.SharedLimit, s.cfg.SharedWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "distributed limiter unavailable",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
		} else if !ok {
			s.metrics.QuoteErrors.WithLabelValues(source, "rate_limited").Inc()
			return fmt.Errorf("%w: %s", domain.ErrRateLimited, source)
		}
	}
	if err := s.limiters[source].Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrRateLimited, source, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	s.metrics.QuoteLatency.WithLabelValues(source, op).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s %s: %v", domain.ErrTimeout, source, op, err)
	}
	s.metrics.QuoteErrors.WithLabelValues(source, errorClass(err)).Inc()
	s.logger.DebugContext(ctx, "quote source call failed",
		slog.String("source", source),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return err
}

func (s *Service) staleness(p domain.Price) error {
	if s.cfg.MaxPriceAge <= 0 {
		return nil
	}
	if age := s.nowFn().Sub(p.AsOf); age > s.cfg.MaxPriceAge {
		return fmt.Errorf("quote: price %s old: %w", age.Truncate(time.Second), domain.ErrStaleData)
	}
	return nil
}

// Purge drops expired cache entries.
func (s *Service) Purge() int {
	return s.quotes.Purge() + s.prices.Purge()
}

// classify reduces per-source failures to one typed error: NoRoute only when
// every source reported no route, Unavailable otherwise.
func classify(errs []error) error {
	if len(errs) == 0 {
		return domain.ErrQuoteUnavailable
	}
	allNoRoute := true
	for _, err := range errs {
		if !errors.Is(err, domain.ErrNoRoute) {
			allNoRoute = false
			break
		}
	}
	joined := errors.Join(errs...)
	if allNoRoute {
		return fmt.Errorf("%w: %v", domain.ErrNoRoute, joined)
	}
	return fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, joined)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoRoute):
		return "no_route"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	}
	return "unavailable"
}

// median of price observations; AsOf is the oldest observation used so the
// staleness check stays conservative.
func median(ps []domain.Price) domain.Price {
	sorted := append([]domain.Price{}, ps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value.LessThan(sorted[j].Value) })

	mid := len(sorted) / 2
	val := sorted[mid].Value
	if len(sorted)%2 == 0 {
		val = sorted[mid-1].Value.Add(sorted[mid].Value).Div(decimal.NewFromInt(2))
	}
	asOf := sorted[0].AsOf
	for _, p := range sorted[1:] {
		if p.AsOf.Before(asOf) {
			asOf = p.AsOf
		}
	}
	src := sorted[mid].Source
	if len(sorted) > 1 {
		src = "median"
	}
	return domain.Price{Value: val, AsOf: asOf, Source: src}
}
