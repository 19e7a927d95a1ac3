// Package app wires the swap engine together and runs it in the configured
// mode: scheduler (tick loops only), server (HTTP API only) or full (both in
// one process).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/swapengine/internal/config"
)

// App owns the configuration and the resources opened while wiring.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []func()
	closeOnce sync.Once
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires dependencies for the configured storage backend and blocks in
// the selected mode until ctx is cancelled or a runner fails.
func (a *App) Run(ctx context.Context) error {
	modes := map[string]func(context.Context, *Dependencies) error{
		"scheduler": a.SchedulerMode,
		"server":    a.ServerMode,
		"full":      a.FullMode,
	}
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.logger.InfoContext(ctx, "swap engine starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("storage", a.cfg.Storage),
		slog.Int("quote_sources", len(a.cfg.Quote.Sources)),
		slog.Bool("retention", a.cfg.Retention.Enabled),
		slog.Bool("kafka", a.cfg.Kafka.Enabled),
	)
	return run(ctx, deps)
}

// Close releases wired resources, last opened first. Only the first call
// does anything.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		a.logger.Info("swap engine stopped")
	})
}
