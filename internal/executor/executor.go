// Package executor drives a Swap through its ordered steps: fresh quote,
// slippage guard, wallet submission with bounded retries, and the refund path
// when a later step fails after value was committed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/metrics"
)

// Config bounds retries, timeouts and price protection.
type Config struct {
	MaxStepRetries     int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	StepTimeout        time.Duration
	StepDeadline       time.Duration
	MaxPriceImpactBps  int
	DefaultSlippageBps int
	// Lease is how long a PROCESSING swap is left alone by the swap loop
	// before it is considered orphaned and resumed.
	Lease               time.Duration
	RefundRetryInterval time.Duration
	MaxRefundAttempts   int
}

// Request describes one execution attempt. Fingerprint identifies the attempt:
// a second Execute with the same fingerprint returns the stored outcome.
type Request struct {
	Fingerprint     string
	UserID          string
	Source          domain.SwapSource
	SourceID        string
	Route           domain.Route
	RequireFullFill bool
}

// Executor is the SwapExecutor.
type Executor struct {
	swaps   domain.SwapStore
	quotes  domain.QuotePort
	wallet  domain.Wallet
	locks   domain.ExecutionLock
	events  domain.EventPublisher
	risk    *RiskGate
	cfg     Config
	nowFn   func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides time.Now.
func WithClock(nowFn func() time.Time) Option {
	return func(e *Executor) { e.nowFn = nowFn }
}

// WithRiskGate screens output tokens before a swap is planned.
func WithRiskGate(g *RiskGate) Option {
	return func(e *Executor) { e.risk = g }
}

// New creates an Executor.
func New(
	swaps domain.SwapStore,
	quotes domain.QuotePort,
	wallet domain.Wallet,
	locks domain.ExecutionLock,
	events domain.EventPublisher,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	if cfg.RefundRetryInterval <= 0 {
		cfg.RefundRetryInterval = time.Minute
	}
	if cfg.MaxRefundAttempts <= 0 {
		cfg.MaxRefundAttempts = 5
	}
	e := &Executor{
		swaps:   swaps,
		quotes:  quotes,
		wallet:  wallet,
		locks:   locks,
		events:  events,
		cfg:     cfg,
		nowFn:   time.Now,
		metrics: m,
		logger:  logger.With(slog.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the attempt identified by req.Fingerprint. A terminal stored
// swap is returned as is; a non-terminal one is resumed from its persisted
// step. Errors before a swap is persisted (validation, risk, quote) are
// returned with a zero Swap so the caller can classify them.
func (e *Executor) Execute(ctx context.Context, req Request) (domain.Swap, error) {
	if req.Fingerprint == "" {
		return domain.Swap{}, fmt.Errorf("executor: %w: empty fingerprint", domain.ErrInvalidRequest)
	}
	tok, ok, err := e.locks.TryAcquire(ctx, "swap:"+req.Fingerprint, req.Fingerprint)
	if err != nil {
		return domain.Swap{}, fmt.Errorf("executor: lock: %w", err)
	}
	if !ok {
		return domain.Swap{}, domain.ErrLockHeld
	}
	defer e.release(tok)

	existing, err := e.swaps.GetByFingerprint(ctx, req.Fingerprint)
	switch {
	case err == nil:
		if existing.Status.Terminal() {
			return existing, nil
		}
		return e.drive(ctx, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Swap{}, fmt.Errorf("executor: lookup %s: %w", req.Fingerprint, err)
	}

	if req.Route.SlippageBps == 0 {
		req.Route.SlippageBps = e.cfg.DefaultSlippageBps
	}
	q, err := e.plan(ctx, req.Route)
	if err != nil {
		return domain.Swap{}, err
	}

	now := e.nowFn().UTC()
	s := domain.Swap{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Fingerprint:     req.Fingerprint,
		Source:          req.Source,
		SourceID:        req.SourceID,
		InputToken:      req.Route.FromToken,
		OutputToken:     req.Route.ToToken,
		InputChainID:    req.Route.FromChainID,
		OutputChainID:   req.Route.ToChainID,
		InputAmount:     req.Route.Amount,
		MaxSlippageBps:  req.Route.SlippageBps,
		RequireFullFill: req.RequireFullFill,
		Steps:           stepsFromQuote(q),
		Status:          domain.SwapPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.swaps.Create(ctx, s); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Swap{}, fmt.Errorf("executor: create swap: %w", err)
		}
		// Lost a race with another process that holds no shared lock.
		stored, gerr := e.swaps.GetByFingerprint(ctx, req.Fingerprint)
		if gerr != nil {
			return domain.Swap{}, fmt.Errorf("executor: reload swap: %w", gerr)
		}
		if stored.Status.Terminal() {
			return stored, nil
		}
		s = stored
	} else {
		e.publishSwap(s)
	}
	return e.drive(ctx, s)
}

// Resume continues a stored swap: it plans a direct swap that has no steps
// yet, drives a non-terminal swap, or settles an outstanding refund.
func (e *Executor) Resume(ctx context.Context, id string) (domain.Swap, error) {
	s, err := e.swaps.GetByID(ctx, id)
	if err != nil {
		return domain.Swap{}, fmt.Errorf("executor: get swap %s: %w", id, err)
	}
	tok, ok, err := e.locks.TryAcquire(ctx, "swap:"+s.Fingerprint, s.Fingerprint)
	if err != nil {
		return s, fmt.Errorf("executor: lock: %w", err)
	}
	if !ok {
		return s, domain.ErrLockHeld
	}
	defer e.release(tok)

	// Re-read under the lock.
	if s, err = e.swaps.GetByID(ctx, id); err != nil {
		return domain.Swap{}, fmt.Errorf("executor: get swap %s: %w", id, err)
	}
	if s.Status.Terminal() {
		if s.RefundPending() {
			return e.settleRefund(ctx, s)
		}
		return s, nil
	}
	if len(s.Steps) == 0 {
		return e.planStored(ctx, s)
	}
	return e.drive(ctx, s)
}

// Lookup returns the swap recorded for fingerprint.
func (e *Executor) Lookup(ctx context.Context, fingerprint string) (domain.Swap, error) {
	return e.swaps.GetByFingerprint(ctx, fingerprint)
}

func (e *Executor) planStored(ctx context.Context, s domain.Swap) (domain.Swap, error) {
	route := domain.Route{
		FromChainID: s.InputChainID,
		ToChainID:   s.OutputChainID,
		FromToken:   s.InputToken,
		ToToken:     s.OutputToken,
		Amount:      s.InputAmount,
		SlippageBps: s.MaxSlippageBps,
	}
	if route.SlippageBps == 0 {
		route.SlippageBps = e.cfg.DefaultSlippageBps
		s.MaxSlippageBps = route.SlippageBps
	}
	if s.CancelRequested {
		return e.failUnplanned(ctx, s, domain.ErrCancelled)
	}
	q, err := e.plan(ctx, route)
	if err != nil {
		if domain.IsRetryable(err) {
			next := e.nowFn().UTC().Add(e.backoff(0))
			s.NextAttemptAt = &next
			if serr := e.save(ctx, &s); serr != nil {
				return s, serr
			}
			return s, err
		}
		return e.failUnplanned(ctx, s, err)
	}
	s.Steps = stepsFromQuote(q)
	return e.drive(ctx, s)
}

// failUnplanned terminates a swap that never got a route.
func (e *Executor) failUnplanned(ctx context.Context, s domain.Swap, cause error) (domain.Swap, error) {
	now := e.nowFn().UTC()
	s.Status = domain.SwapFailed
	s.Error = cause.Error()
	s.CompletedAt = &now
	s.NextAttemptAt = nil
	if err := e.save(ctx, &s); err != nil {
		return s, err
	}
	e.metrics.SwapOutcomes.WithLabelValues(string(s.Source), string(s.Status)).Inc()
	e.publishSwap(s)
	return s, nil
}

func (e *Executor) plan(ctx context.Context, r domain.Route) (domain.Quote, error) {
	if e.risk != nil {
		if err := e.risk.Check(ctx, r.ToChainID, r.ToToken); err != nil {
			return domain.Quote{}, err
		}
	}
	q, err := e.quotes.GetQuote(ctx, r, domain.QuoteOptions{})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("executor: plan: %w", err)
	}
	if len(q.Legs) == 0 {
		return domain.Quote{}, fmt.Errorf("executor: plan: %w: quote has no legs", domain.ErrInvalidRoute)
	}
	return q, nil
}

func stepsFromQuote(q domain.Quote) []domain.SwapStep {
	steps := make([]domain.SwapStep, len(q.Legs))
	for i, leg := range q.Legs {
		to := leg.ToChainID
		if to == "" {
			to = leg.ChainID
		}
		steps[i] = domain.SwapStep{
			StepIndex:      i,
			Protocol:       leg.Protocol,
			ChainID:        leg.ChainID,
			ToChainID:      to,
			InputToken:     leg.InputToken,
			OutputToken:    leg.OutputToken,
			InputAmount:    leg.InputAmount,
			ExpectedOutput: leg.ExpectedOutput,
			PriceImpactBps: leg.PriceImpactBps,
			Status:         domain.StepPending,
		}
	}
	return steps
}

// drive executes the remaining steps strictly in order.
func (e *Executor) drive(ctx context.Context, s domain.Swap) (domain.Swap, error) {
	log := e.logger.With(
		slog.String("swap_id", s.ID),
		slog.String("fingerprint", s.Fingerprint),
	)

	if s.Status == domain.SwapPending {
		s.Status = domain.SwapProcessing
	}
	lease := e.nowFn().UTC().Add(e.cfg.Lease)
	s.NextAttemptAt = &lease
	if err := e.save(ctx, &s); err != nil {
		return s, err
	}
	e.publishSwap(s)

	for i := s.CurrentStepIndex; i < len(s.Steps); i++ {
		s.CurrentStepIndex = i
		step := &s.Steps[i]
		if step.Status == domain.StepCompleted {
			continue
		}

		if step.Status == domain.StepPending {
			if cancelled, err := e.cancelRequested(ctx, s.ID); err != nil {
				return s, err
			} else if cancelled {
				log.InfoContext(ctx, "cancel requested, stopping before step", slog.Int("step", i))
				return e.abort(ctx, s, i, domain.ErrCancelled)
			}
			if i > 0 {
				chainInput(step, s.Steps[i-1].ActualOutput)
			}
		}

		if err := e.runStep(ctx, &s, i); err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-step: leave the step EXECUTING for resumption.
				return s, ctx.Err()
			}
			var se storeError
			if errors.As(err, &se) {
				return s, err
			}
			log.WarnContext(ctx, "step failed terminally",
				slog.Int("step", i),
				slog.String("error", err.Error()),
			)
			return e.abort(ctx, s, i, err)
		}
	}

	now := e.nowFn().UTC()
	last := s.Steps[len(s.Steps)-1]
	s.Status = domain.SwapCompleted
	s.OutputAmount = last.ActualOutput
	s.Error = ""
	s.CompletedAt = &now
	s.NextAttemptAt = nil
	if err := e.save(ctx, &s); err != nil {
		return s, err
	}
	e.metrics.SwapOutcomes.WithLabelValues(string(s.Source), string(s.Status)).Inc()
	e.publishSwap(s)
	log.InfoContext(ctx, "swap completed",
		slog.String("input", s.FilledInput.String()),
		slog.String("output", s.OutputAmount.String()),
	)
	return s, nil
}

// chainInput feeds the previous step's actual output into a pending step and
// rescales its planned expectation to the new input.
func chainInput(step *domain.SwapStep, prevOut decimal.Decimal) {
	if !prevOut.IsPositive() || prevOut.Equal(step.InputAmount) {
		return
	}
	if step.InputAmount.IsPositive() {
		step.ExpectedOutput = step.ExpectedOutput.Mul(prevOut).Div(step.InputAmount)
	}
	step.InputAmount = prevOut
}

// runStep retries one step on transient failures with exponential backoff.
func (e *Executor) runStep(ctx context.Context, s *domain.Swap, i int) error {
	for attempt := 0; ; attempt++ {
		err := e.attemptStep(ctx, s, i)
		if err == nil {
			e.metrics.StepOutcomes.WithLabelValues("completed").Inc()
			return nil
		}
		var se storeError
		if errors.As(err, &se) || ctx.Err() != nil {
			return err
		}
		if !domain.IsRetryable(err) {
			e.metrics.StepOutcomes.WithLabelValues("terminal").Inc()
			return err
		}
		e.metrics.StepOutcomes.WithLabelValues("retryable").Inc()
		if attempt >= e.cfg.MaxStepRetries {
			return fmt.Errorf("%w after %d attempts: %v", domain.ErrRetriesExhausted, attempt+1, err)
		}
		e.logger.DebugContext(ctx, "retrying step",
			slog.String("swap_id", s.ID),
			slog.Int("step", i),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, e.backoff(attempt)); err != nil {
			return err
		}
	}
}

func (e *Executor) attemptStep(ctx context.Context, s *domain.Swap, i int) error {
	step := &s.Steps[i]
	route := domain.Route{
		FromChainID: step.ChainID,
		ToChainID:   step.ToChainID,
		FromToken:   step.InputToken,
		ToToken:     step.OutputToken,
		Amount:      step.InputAmount,
		SlippageBps: s.MaxSlippageBps,
	}
	q, err := e.quotes.GetQuote(ctx, route, domain.QuoteOptions{Fresh: true})
	if err != nil {
		return fmt.Errorf("executor: step %d quote: %w", i, err)
	}

	// Every attempt, retries and resumes included, is held to the expectation
	// the step started with, not to the previous attempt's quote.
	if step.PlannedOutput.IsZero() {
		step.PlannedOutput = step.ExpectedOutput
	}
	if bps := shortfallBps(step.PlannedOutput, q.OutputAmount); bps > int64(s.MaxSlippageBps) {
		return fmt.Errorf("%w: step %d quote %s is %d bps below planned %s (max %d)",
			domain.ErrSlippageExceeded, i, q.OutputAmount, bps, step.PlannedOutput, s.MaxSlippageBps)
	}
	if e.cfg.MaxPriceImpactBps > 0 && q.PriceImpactBps > e.cfg.MaxPriceImpactBps {
		return fmt.Errorf("%w: step %d price impact %d bps exceeds %d",
			domain.ErrSlippageExceeded, i, q.PriceImpactBps, e.cfg.MaxPriceImpactBps)
	}

	now := e.nowFn().UTC()
	step.ExpectedOutput = q.OutputAmount
	step.PriceImpactBps = q.PriceImpactBps
	step.Status = domain.StepExecuting
	step.Attempts++
	if step.StartedAt == nil {
		step.StartedAt = &now
	}
	if err := e.save(ctx, s); err != nil {
		return err
	}
	e.publishStep(*s, i)

	minOut := q.OutputAmount.Mul(decimal.NewFromInt(int64(10_000 - s.MaxSlippageBps))).Div(decimal.NewFromInt(10_000))
	allowPartial := i == 0 && !s.RequireFullFill
	intent := domain.StepIntent{
		Fingerprint:  fmt.Sprintf("%s:%d", s.ID, i),
		SwapID:       s.ID,
		UserID:       s.UserID,
		StepIndex:    i,
		Protocol:     step.Protocol,
		ChainID:      step.ChainID,
		ToChainID:    step.ToChainID,
		InputToken:   step.InputToken,
		OutputToken:  step.OutputToken,
		InputAmount:  step.InputAmount,
		MinOutput:    minOut,
		AllowPartial: allowPartial,
	}
	if e.cfg.StepDeadline > 0 {
		intent.Deadline = now.Add(e.cfg.StepDeadline)
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	res, err := e.wallet.SubmitStep(sctx, intent)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: step %d submit: %v", domain.ErrTimeout, i, err)
		}
		step.Error = err.Error()
		if serr := e.save(ctx, s); serr != nil {
			return serr
		}
		return err
	}

	used := res.InputUsed
	if !used.IsPositive() {
		used = step.InputAmount
	}
	step.ActualOutput = res.Output
	step.TxHash = res.TxHash
	if i == 0 {
		s.FilledInput = used
		if used.LessThan(step.InputAmount) && !allowPartial {
			// The chain executed a partial fill the request did not allow.
			return fmt.Errorf("%w: step 0 used %s of %s", domain.ErrPartialFill, used, step.InputAmount)
		}
	}

	done := e.nowFn().UTC()
	step.Status = domain.StepCompleted
	step.Error = ""
	step.CompletedAt = &done
	if err := e.save(ctx, s); err != nil {
		return err
	}
	e.publishStep(*s, i)
	return nil
}

// abort marks step i and the swap FAILED and, when earlier steps committed
// value on-chain, creates and submits a refund.
func (e *Executor) abort(ctx context.Context, s domain.Swap, i int, cause error) (domain.Swap, error) {
	now := e.nowFn().UTC()
	step := &s.Steps[i]
	step.Status = domain.StepFailed
	step.Error = cause.Error()
	s.CurrentStepIndex = i
	s.Status = domain.SwapFailed
	s.Error = cause.Error()
	s.CompletedAt = &now
	s.NextAttemptAt = nil

	if ref := committedValue(s, i, now); ref != nil {
		s.Refund = ref
	}
	if err := e.save(ctx, &s); err != nil {
		return s, err
	}
	e.publishStep(s, i)

	if s.Refund != nil {
		var err error
		if s, err = e.settleRefund(ctx, s); err != nil {
			return s, err
		}
	} else {
		e.publishSwap(s)
	}
	e.metrics.SwapOutcomes.WithLabelValues(string(s.Source), string(s.Status)).Inc()
	return s, nil
}

// committedValue returns a refund for the newest step at or before failed
// that produced output, or nil when nothing left the user's wallet.
func committedValue(s domain.Swap, failed int, now time.Time) *domain.Refund {
	for j := failed; j >= 0; j-- {
		st := s.Steps[j]
		if st.ActualOutput.IsPositive() {
			chain := st.ToChainID
			if chain == "" {
				chain = st.ChainID
			}
			return &domain.Refund{
				StepIndex: j,
				ChainID:   chain,
				Token:     st.OutputToken,
				Amount:    st.ActualOutput,
				Status:    domain.RefundPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
	}
	return nil
}

// SettleRefund submits or polls the outstanding refund of swap id.
func (e *Executor) SettleRefund(ctx context.Context, id string) (domain.Swap, error) {
	return e.Resume(ctx, id)
}

func (e *Executor) settleRefund(ctx context.Context, s domain.Swap) (domain.Swap, error) {
	r := s.Refund
	now := e.nowFn().UTC()
	log := e.logger.With(slog.String("swap_id", s.ID), slog.Int("refund_step", r.StepIndex))

	if r.TxHash == "" {
		r.Attempts++
		rc, err := e.wallet.SubmitRefund(ctx, domain.RefundIntent{
			Fingerprint: fmt.Sprintf("%s:refund:%d", s.ID, r.Attempts),
			SwapID:      s.ID,
			UserID:      s.UserID,
			ChainID:     r.ChainID,
			Token:       r.Token,
			Amount:      r.Amount,
		})
		if err != nil {
			r.Error = err.Error()
			if !domain.IsRetryable(err) && r.Attempts >= e.cfg.MaxRefundAttempts {
				r.Status = domain.RefundFailed
			}
			log.WarnContext(ctx, "refund submission failed",
				slog.Int("attempt", r.Attempts),
				slog.String("error", err.Error()),
			)
		} else {
			r.TxHash = rc.TxHash
			r.Status = rc.Status
			r.Error = ""
		}
	} else {
		st, err := e.wallet.RefundStatus(ctx, r.ChainID, r.TxHash)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Status = st
			if st == domain.RefundFailed && r.Attempts < e.cfg.MaxRefundAttempts {
				// Rejected on-chain: resubmit on the next pass.
				r.TxHash = ""
				r.Status = domain.RefundPending
			}
		}
	}
	r.UpdatedAt = now

	switch r.Status {
	case domain.RefundConfirmed:
		s.Status = domain.SwapRefunded
		s.NextAttemptAt = nil
		log.InfoContext(ctx, "refund confirmed", slog.String("tx_hash", r.TxHash))
	case domain.RefundPending:
		next := now.Add(e.cfg.RefundRetryInterval)
		s.NextAttemptAt = &next
	default:
		s.NextAttemptAt = nil
		s.Error = fmt.Sprintf("%s; refund failed: %s", s.Error, r.Error)
		log.ErrorContext(ctx, "refund failed permanently", slog.String("error", r.Error))
	}
	e.metrics.RefundOutcomes.WithLabelValues(string(r.Status)).Inc()

	if err := e.save(ctx, &s); err != nil {
		return s, err
	}
	e.publishSwap(s)
	return s, nil
}

func (e *Executor) cancelRequested(ctx context.Context, id string) (bool, error) {
	cur, err := e.swaps.GetByID(ctx, id)
	if err != nil {
		return false, storeError{fmt.Errorf("executor: read cancel flag: %w", err)}
	}
	return cur.CancelRequested, nil
}

// storeError marks persistence failures, which are never retried in-line.
type storeError struct{ err error }

func (e storeError) Error() string { return e.err.Error() }
func (e storeError) Unwrap() error { return e.err }

func (e *Executor) save(ctx context.Context, s *domain.Swap) error {
	s.UpdatedAt = e.nowFn().UTC()
	if err := e.swaps.Update(ctx, *s); err != nil {
		return storeError{fmt.Errorf("executor: persist swap %s: %w", s.ID, err)}
	}
	return nil
}

func (e *Executor) release(tok domain.LockToken) {
	if err := e.locks.Release(context.Background(), tok); err != nil {
		e.logger.Warn("lock release failed",
			slog.String("entity", tok.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) publishSwap(s domain.Swap) {
	ev := domain.NewSwapEvent(s, e.nowFn().UTC())
	e.events.Publish(domain.SwapTopic(s.ID), ev)
	e.events.Publish(domain.UserTopic(s.UserID), ev)
}

func (e *Executor) publishStep(s domain.Swap, i int) {
	ev := domain.NewStepEvent(s, i, e.nowFn().UTC())
	e.events.Publish(domain.SwapTopic(s.ID), ev)
	e.events.Publish(domain.UserTopic(s.UserID), ev)
}

func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BaseBackoff
	for n := 0; n < attempt && d < e.cfg.MaxBackoff; n++ {
		d *= 2
	}
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	return d
}

// shortfallBps is how far got is below want, in basis points of want.
func shortfallBps(want, got decimal.Decimal) int64 {
	if !want.IsPositive() || got.GreaterThanOrEqual(want) {
		return 0
	}
	return want.Sub(got).Mul(decimal.NewFromInt(10_000)).Div(want).Ceil().IntPart()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
