package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/executor"
)

// SwapExecutor is the part of the executor the schedulers depend on.
type SwapExecutor interface {
	Execute(ctx context.Context, req executor.Request) (domain.Swap, error)
	// Lookup returns the swap stored under fingerprint, or ErrNotFound when
	// no attempt under it got as far as persisting a swap.
	Lookup(ctx context.Context, fingerprint string) (domain.Swap, error)
}

// DCAConfig tunes the DCA scheduler.
type DCAConfig struct {
	// PauseAfterFailures pauses a strategy after this many consecutive failed
	// executions. Zero disables auto-pause.
	PauseAfterFailures int
}

// DCAScheduler executes due DCA strategies one slot at a time.
type DCAScheduler struct {
	store  domain.DCAStore
	exec   SwapExecutor
	quotes domain.QuotePort
	events domain.EventPublisher
	cfg    DCAConfig
	nowFn  func() time.Time
	logger *slog.Logger
}

var _ Handler[domain.DCAStrategy] = (*DCAScheduler)(nil)

// NewDCAScheduler creates a DCAScheduler. A nil nowFn uses time.Now.
func NewDCAScheduler(
	store domain.DCAStore,
	exec SwapExecutor,
	quotes domain.QuotePort,
	events domain.EventPublisher,
	cfg DCAConfig,
	nowFn func() time.Time,
	logger *slog.Logger,
) *DCAScheduler {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &DCAScheduler{
		store:  store,
		exec:   exec,
		quotes: quotes,
		events: events,
		cfg:    cfg,
		nowFn:  nowFn,
		logger: logger.With(slog.String("component", "dca_scheduler")),
	}
}

func (d *DCAScheduler) Due(ctx context.Context, now time.Time, limit int) ([]domain.DCAStrategy, error) {
	return d.store.ListDue(ctx, now, limit)
}

func (d *DCAScheduler) Key(s domain.DCAStrategy) (string, string) {
	return "dca:" + s.ID, s.Fingerprint()
}

// Process runs the currently scheduled slot of the strategy. An execution
// left EXECUTING by a crash or a transient error is resumed under the same
// fingerprint, so a slot is never spent twice.
func (d *DCAScheduler) Process(ctx context.Context, listed domain.DCAStrategy) (string, error) {
	s, err := d.store.GetByID(ctx, listed.ID)
	if err != nil {
		return OutcomeError, fmt.Errorf("dca: get %s: %w", listed.ID, err)
	}
	if s.Status.Terminal() {
		return OutcomeNoop, nil
	}
	now := d.nowFn().UTC()
	fp := s.Fingerprint()
	log := d.logger.With(slog.String("strategy_id", s.ID), slog.String("fingerprint", fp))

	// An in-flight execution is finished before cancellation is honoured:
	// committed on-chain steps cannot be withdrawn.
	exec, err := d.store.GetExecution(ctx, fp)
	switch {
	case err == nil && exec.Status.Terminal():
		// Outcome already recorded for this slot; only the schedule is behind.
		log.WarnContext(ctx, "slot already recorded, advancing schedule")
		if err := s.Advance(); err != nil {
			return OutcomeError, err
		}
		s.UpdatedAt = now
		if err := d.store.Update(ctx, s); err != nil {
			return OutcomeError, fmt.Errorf("dca: update %s: %w", s.ID, err)
		}
		return OutcomeNoop, nil
	case err == nil:
		if s.CancelRequested {
			started, err := d.swapStarted(ctx, fp)
			if err != nil {
				return OutcomeError, err
			}
			if !started {
				return d.cancelUnstarted(ctx, s, exec, now)
			}
		}
		log.InfoContext(ctx, "recovering in-flight execution", slog.Int("execution", exec.ExecutionNumber))
	case errors.Is(err, domain.ErrNotFound):
		if s.CancelRequested {
			s.Status = domain.DCACancelled
			s.UpdatedAt = now
			if err := d.store.Update(ctx, s); err != nil {
				return OutcomeError, fmt.Errorf("dca: cancel %s: %w", s.ID, err)
			}
			d.events.Publish(domain.DCATopic(s.ID), domain.NewDCAEvent(s, now))
			d.events.Publish(domain.UserTopic(s.UserID), domain.NewDCAEvent(s, now))
			return OutcomeTerminal, nil
		}
		if s.Status != domain.DCAActive || s.NextExecutionAt.After(now) {
			return OutcomeNoop, nil
		}

		exec = domain.DCAExecution{
			ID:              uuid.NewString(),
			StrategyID:      s.ID,
			UserID:          s.UserID,
			Fingerprint:     fp,
			ExecutionNumber: s.ExecutedCount + s.SkippedCount + 1,
			ScheduledAt:     s.NextExecutionAt,
			Status:          domain.DCAExecPending,
			InputAmount:     s.AmountPerExecution,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		skip, gas, err := d.gasTooHigh(ctx, s)
		if err != nil {
			return OutcomeTransient, err
		}
		exec.GasUSD = gas
		if skip {
			return d.skip(ctx, s, exec, now)
		}
		exec.Status = domain.DCAExecExecuting
		if err := d.store.SaveExecution(ctx, exec); err != nil {
			return OutcomeError, fmt.Errorf("dca: save execution %s: %w", fp, err)
		}
		d.publishExecution(s, exec, now)
	default:
		return OutcomeError, fmt.Errorf("dca: get execution %s: %w", fp, err)
	}

	swap, err := d.exec.Execute(ctx, executor.Request{
		Fingerprint: fp,
		UserID:      s.UserID,
		Source:      domain.SourceDCA,
		SourceID:    s.ID,
		Route: domain.Route{
			FromChainID: s.InputChainID,
			ToChainID:   s.OutputChainID,
			FromToken:   s.InputToken,
			ToToken:     s.OutputToken,
			Amount:      s.AmountPerExecution,
			SlippageBps: s.MaxSlippageBps,
		},
		RequireFullFill: true,
	})
	if err != nil {
		if !domain.IsTerminal(err) {
			// The execution stays EXECUTING and is resumed next tick.
			return OutcomeTransient, err
		}
		return d.fail(ctx, s, exec, "", err.Error(), now)
	}

	switch swap.Status {
	case domain.SwapCompleted:
		return d.succeed(ctx, s, exec, swap, d.nowFn().UTC())
	case domain.SwapFailed, domain.SwapRefunded:
		return d.fail(ctx, s, exec, swap.ID, swap.Error, d.nowFn().UTC())
	}
	return OutcomeTransient, fmt.Errorf("dca: swap %s still %s: %w", swap.ID, swap.Status, domain.ErrTimeout)
}

// swapStarted reports whether an executor attempt under fp persisted a swap.
func (d *DCAScheduler) swapStarted(ctx context.Context, fp string) (bool, error) {
	_, err := d.exec.Lookup(ctx, fp)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("dca: lookup swap %s: %w", fp, err)
}

// cancelUnstarted closes an EXECUTING slot that never reached the executor's
// store and cancels the strategy. Nothing was committed for the slot.
func (d *DCAScheduler) cancelUnstarted(ctx context.Context, s domain.DCAStrategy, e domain.DCAExecution, now time.Time) (string, error) {
	e.Status = domain.DCAExecSkipped
	e.Error = "cancelled before execution"
	e.UpdatedAt = now
	s.Status = domain.DCACancelled
	s.UpdatedAt = now
	if err := d.store.RecordExecution(ctx, s, e); err != nil {
		return OutcomeError, fmt.Errorf("dca: cancel %s: %w", s.ID, err)
	}
	d.publishExecution(s, e, now)
	d.events.Publish(domain.DCATopic(s.ID), domain.NewDCAEvent(s, now))
	d.events.Publish(domain.UserTopic(s.UserID), domain.NewDCAEvent(s, now))
	d.logger.InfoContext(ctx, "dca cancelled with unstarted slot",
		slog.String("strategy_id", s.ID),
		slog.String("fingerprint", e.Fingerprint),
	)
	return OutcomeTerminal, nil
}

// gasTooHigh reports whether the slot should be skipped for gas cost, along
// with the estimate used.
func (d *DCAScheduler) gasTooHigh(ctx context.Context, s domain.DCAStrategy) (bool, decimal.Decimal, error) {
	if !s.SkipOnHighGas || !s.MaxGasUSD.IsPositive() {
		return false, decimal.Zero, nil
	}
	q, err := d.quotes.GetQuote(ctx, domain.Route{
		FromChainID: s.InputChainID,
		ToChainID:   s.OutputChainID,
		FromToken:   s.InputToken,
		ToToken:     s.OutputToken,
		Amount:      s.AmountPerExecution,
		SlippageBps: s.MaxSlippageBps,
	}, domain.QuoteOptions{})
	if err != nil {
		if domain.IsRetryable(err) {
			return false, decimal.Zero, fmt.Errorf("dca: gas estimate: %w", err)
		}
		// Let the executor record the terminal failure.
		return false, decimal.Zero, nil
	}
	return q.GasUSD.GreaterThan(s.MaxGasUSD), q.GasUSD, nil
}

func (d *DCAScheduler) skip(ctx context.Context, s domain.DCAStrategy, e domain.DCAExecution, now time.Time) (string, error) {
	e.Status = domain.DCAExecSkipped
	e.Error = fmt.Sprintf("gas %s USD exceeds max %s USD", e.GasUSD.StringFixed(2), s.MaxGasUSD.StringFixed(2))
	e.UpdatedAt = now
	s.SkippedCount++
	if err := d.record(ctx, &s, e, now); err != nil {
		return OutcomeError, err
	}
	d.logger.InfoContext(ctx, "execution skipped on gas",
		slog.String("strategy_id", s.ID),
		slog.String("gas_usd", e.GasUSD.String()),
	)
	return OutcomeSkipped, nil
}

func (d *DCAScheduler) succeed(ctx context.Context, s domain.DCAStrategy, e domain.DCAExecution, swap domain.Swap, now time.Time) (string, error) {
	in := swap.FilledInput
	if !in.IsPositive() {
		in = s.AmountPerExecution
	}
	e.Status = domain.DCAExecCompleted
	e.SwapID = swap.ID
	e.InputAmount = in
	e.OutputAmount = swap.OutputAmount
	if swap.OutputAmount.IsPositive() {
		e.Price = in.Div(swap.OutputAmount)
	}
	e.Error = ""
	e.UpdatedAt = now

	s.ExecutedCount++
	s.TotalInputSpent = s.TotalInputSpent.Add(in)
	s.TotalOutputReceived = s.TotalOutputReceived.Add(swap.OutputAmount)
	s.RecomputeAverage()
	s.ConsecutiveFailures = 0
	s.LastError = ""
	s.LastExecutionAt = &now

	if err := d.record(ctx, &s, e, now); err != nil {
		return OutcomeError, err
	}
	d.logger.InfoContext(ctx, "dca execution completed",
		slog.String("strategy_id", s.ID),
		slog.Int("executed", s.ExecutedCount),
		slog.Int("total", s.TotalExecutions),
		slog.String("average_price", s.AveragePrice.String()),
	)
	return OutcomeExecuted, nil
}

func (d *DCAScheduler) fail(ctx context.Context, s domain.DCAStrategy, e domain.DCAExecution, swapID, reason string, now time.Time) (string, error) {
	e.Status = domain.DCAExecFailed
	e.SwapID = swapID
	e.Error = reason
	e.UpdatedAt = now

	s.ExecutedCount++
	s.ConsecutiveFailures++
	s.LastError = reason
	s.LastExecutionAt = &now
	if d.cfg.PauseAfterFailures > 0 && s.ConsecutiveFailures >= d.cfg.PauseAfterFailures {
		s.Status = domain.DCAPaused
	}

	if err := d.record(ctx, &s, e, now); err != nil {
		return OutcomeError, err
	}
	d.logger.WarnContext(ctx, "dca execution failed",
		slog.String("strategy_id", s.ID),
		slog.String("fingerprint", e.Fingerprint),
		slog.Int("consecutive_failures", s.ConsecutiveFailures),
		slog.String("status", string(s.Status)),
		slog.String("error", reason),
	)
	return OutcomeFailed, nil
}

// record advances the schedule and persists strategy and execution together.
func (d *DCAScheduler) record(ctx context.Context, s *domain.DCAStrategy, e domain.DCAExecution, now time.Time) error {
	if s.ExecutedCount >= s.TotalExecutions {
		s.Status = domain.DCACompleted
	}
	if err := s.Advance(); err != nil {
		return err
	}
	s.UpdatedAt = now
	if err := d.store.RecordExecution(ctx, *s, e); err != nil {
		return fmt.Errorf("dca: record %s: %w", e.Fingerprint, err)
	}
	d.publishExecution(*s, e, now)
	d.events.Publish(domain.DCATopic(s.ID), domain.NewDCAEvent(*s, now))
	return nil
}

func (d *DCAScheduler) publishExecution(s domain.DCAStrategy, e domain.DCAExecution, now time.Time) {
	ev := domain.NewDCAExecutionEvent(s, e, now)
	d.events.Publish(domain.DCATopic(s.ID), ev)
	d.events.Publish(domain.UserTopic(s.UserID), ev)
}

// Resume re-activates a PAUSED strategy. Missed slots are not replayed: the
// next execution is the first scheduled slot not before now.
func (d *DCAScheduler) Resume(ctx context.Context, id string) (domain.DCAStrategy, error) {
	s, err := d.store.GetByID(ctx, id)
	if err != nil {
		return s, err
	}
	if s.Status != domain.DCAPaused {
		return s, fmt.Errorf("dca: %w: strategy %s is %s, not PAUSED", domain.ErrInvalidRequest, id, s.Status)
	}
	now := d.nowFn().UTC()
	for s.NextExecutionAt.Before(now) {
		if err := s.Advance(); err != nil {
			return s, err
		}
	}
	s.Status = domain.DCAActive
	s.ConsecutiveFailures = 0
	s.UpdatedAt = now
	if err := d.store.Update(ctx, s); err != nil {
		return s, fmt.Errorf("dca: resume %s: %w", id, err)
	}
	d.events.Publish(domain.DCATopic(s.ID), domain.NewDCAEvent(s, now))
	d.events.Publish(domain.UserTopic(s.UserID), domain.NewDCAEvent(s, now))
	return s, nil
}
