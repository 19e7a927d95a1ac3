package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-running component started by the Orchestrator.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Orchestrator runs the tick loops and background runners side by side. A
// runner that fails with a non-context error stops all of them.
type Orchestrator struct {
	runners []Runner
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(logger *slog.Logger, runners ...Runner) *Orchestrator {
	return &Orchestrator{runners: runners, logger: logger.With(slog.String("component", "orchestrator"))}
}

// Run blocks until ctx is cancelled or a runner fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scheduler orchestrator starting", slog.Int("runners", len(o.runners)))

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range o.runners {
		g.Go(func() error {
			err := r.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("%s: %w", r.Name(), err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("scheduler orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("scheduler orchestrator stopped cleanly")
	return nil
}
