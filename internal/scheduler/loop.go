// Package scheduler runs the periodic tick loops that pull due swaps, DCA
// strategies, limit orders and price alerts from storage and drive each one
// under its execution lock on a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/metrics"
)

// Entity outcomes reported by handlers and counted per loop.
const (
	OutcomeExecuted  = "executed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeWaiting   = "waiting"
	OutcomeTerminal  = "terminal"
	OutcomeNoop      = "noop"
	OutcomeLocked    = "locked"
	OutcomeTransient = "transient"
	OutcomeError     = "error"
)

// Handler is one entity class driven by a Loop.
type Handler[T any] interface {
	// Due lists entities eligible for evaluation at now.
	Due(ctx context.Context, now time.Time, limit int) ([]T, error)
	// Key returns the entity id used for locking and backoff, and the
	// fingerprint of the attempt the tick would make.
	Key(item T) (entityID, fingerprint string)
	// Process evaluates one entity. It runs under the entity's lock.
	Process(ctx context.Context, item T) (outcome string, err error)
}

// LoopConfig tunes one tick loop.
type LoopConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
	// EntityTimeout bounds the processing of a single entity.
	EntityTimeout time.Duration
}

// Loop periodically fans due entities out to a bounded worker pool. An entity
// whose lock is held elsewhere is skipped silently for the tick.
type Loop[T any] struct {
	name    string
	cfg     LoopConfig
	handler Handler[T]
	locks   domain.ExecutionLock
	backoff *Backoff
	nowFn   func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewLoop creates a Loop. A nil locks processes entities without a loop-level
// lock, for handlers that lock internally.
func NewLoop[T any](
	name string,
	cfg LoopConfig,
	handler Handler[T],
	locks domain.ExecutionLock,
	backoff *Backoff,
	nowFn func() time.Time,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Loop[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if backoff == nil {
		backoff = NewBackoff(cfg.Interval, 16*cfg.Interval, nowFn)
	}
	return &Loop[T]{
		name:    name,
		cfg:     cfg,
		handler: handler,
		locks:   locks,
		backoff: backoff,
		nowFn:   nowFn,
		metrics: m,
		logger:  logger.With(slog.String("component", "scheduler"), slog.String("loop", name)),
	}
}

// Name returns the loop name.
func (l *Loop[T]) Name() string { return l.name }

// Run ticks immediately and then every Interval until ctx is cancelled.
func (l *Loop[T]) Run(ctx context.Context) error {
	l.logger.Info("loop started",
		slog.Duration("interval", l.cfg.Interval),
		slog.Int("workers", l.cfg.Workers),
	)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			l.logger.Error("tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			l.logger.Info("loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.backoff.Cleanup()
		}
	}
}

// Tick processes one batch of due entities and waits for all of them.
func (l *Loop[T]) Tick(ctx context.Context) error {
	start := time.Now()
	l.metrics.LoopTicks.WithLabelValues(l.name).Inc()
	defer func() {
		l.metrics.LoopDuration.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
	}()

	items, err := l.handler.Due(ctx, l.nowFn().UTC(), l.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(l.cfg.Workers)
	for _, item := range items {
		id, _ := l.handler.Key(item)
		if !l.backoff.Ready(id) {
			continue
		}
		task := func() error {
			l.processOne(ctx, item)
			return nil
		}
		if !g.TryGo(task) {
			l.metrics.WorkerSaturated.WithLabelValues(l.name).Inc()
			g.Go(task)
		}
	}
	return g.Wait()
}

func (l *Loop[T]) processOne(ctx context.Context, item T) {
	id, fp := l.handler.Key(item)
	log := l.logger.With(slog.String("entity_id", id), slog.String("fingerprint", fp))

	if l.cfg.EntityTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.EntityTimeout)
		defer cancel()
	}

	if l.locks != nil {
		tok, ok, err := l.locks.TryAcquire(ctx, id, fp)
		if err != nil {
			l.record(OutcomeError)
			log.WarnContext(ctx, "lock acquire failed", slog.String("error", err.Error()))
			return
		}
		if !ok {
			l.metrics.LockContention.WithLabelValues(l.name).Inc()
			l.record(OutcomeLocked)
			return
		}
		defer func() {
			if err := l.locks.Release(context.Background(), tok); err != nil {
				log.Warn("lock release failed", slog.String("error", err.Error()))
			}
		}()
	}

	outcome, err := l.handler.Process(ctx, item)
	switch {
	case err == nil:
		l.backoff.Reset(id)
	case errors.Is(err, domain.ErrLockHeld):
		l.metrics.LockContention.WithLabelValues(l.name).Inc()
		outcome = OutcomeLocked
	case domain.IsRetryable(err) || errors.Is(err, context.Canceled):
		wait := l.backoff.Defer(id)
		outcome = OutcomeTransient
		log.WarnContext(ctx, "transient failure, retrying later",
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
	default:
		l.backoff.Defer(id)
		if outcome == "" {
			outcome = OutcomeError
		}
		log.ErrorContext(ctx, "processing failed", slog.String("error", err.Error()))
	}
	l.record(outcome)
}

func (l *Loop[T]) record(outcome string) {
	if outcome == "" {
		outcome = OutcomeNoop
	}
	l.metrics.EntityOutcomes.WithLabelValues(l.name, outcome).Inc()
}
