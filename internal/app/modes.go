package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapengine/internal/config"
	"github.com/alanyoungcy/swapengine/internal/crypto"
	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/events"
	"github.com/alanyoungcy/swapengine/internal/executor"
	"github.com/alanyoungcy/swapengine/internal/platform/aggregator"
	"github.com/alanyoungcy/swapengine/internal/platform/auditor"
	"github.com/alanyoungcy/swapengine/internal/platform/relayer"
	"github.com/alanyoungcy/swapengine/internal/quote"
	"github.com/alanyoungcy/swapengine/internal/scheduler"
	"github.com/alanyoungcy/swapengine/internal/server"
	"github.com/alanyoungcy/swapengine/internal/server/handler"
	"github.com/alanyoungcy/swapengine/internal/server/ws"
	"github.com/alanyoungcy/swapengine/internal/service"
)

// core holds the components shared by every mode.
type core struct {
	quotes    *quote.Service
	publisher *events.Publisher
	dca       *scheduler.DCAScheduler
	intake    *service.Intake
}

// SchedulerMode runs the tick loops and the event publisher.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")
	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}
	orch, err := a.buildScheduler(ctx, deps, c)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(ctx, c.publisher.Run(ctx)) })
	g.Go(func() error { return orch.Run(ctx) })
	return g.Wait()
}

// ServerMode runs the HTTP API only. Events from scheduler processes reach
// WebSocket clients through the signal bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(ctx, c.publisher.Run(ctx)) })

	var feed <-chan events.Delivery
	if deps.SignalBus != nil {
		feed, err = events.BusFeed(ctx, deps.SignalBus, a.logger)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
	} else {
		a.logger.WarnContext(ctx, "server mode without redis: websocket clients only see events from this process")
		sub, unsubscribe := c.publisher.Subscribe("*", 1024)
		defer unsubscribe()
		feed = sub
	}
	a.startHTTPServer(ctx, g, deps, c, feed)
	return g.Wait()
}

// FullMode runs loops, publisher and HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}
	orch, err := a.buildScheduler(ctx, deps, c)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(ctx, c.publisher.Run(ctx)) })
	g.Go(func() error { return orch.Run(ctx) })

	sub, unsubscribe := c.publisher.Subscribe("*", 1024)
	defer unsubscribe()
	a.startHTTPServer(ctx, g, deps, c, sub)
	return g.Wait()
}

// buildCore creates the quote port, the event publisher and the intake.
func (a *App) buildCore(deps *Dependencies) (*core, error) {
	cfg := a.cfg

	sources := make([]domain.QuoteSource, 0, len(cfg.Quote.Sources))
	for _, s := range cfg.Quote.Sources {
		sources = append(sources, aggregator.New(aggregator.Config{
			Name:          s.Name,
			BaseURL:       s.BaseURL,
			APIKey:        s.APIKey,
			Timeout:       s.Timeout.Duration,
			RatePerSecond: s.RatePerSecond,
		}))
	}
	var opts []quote.Option
	if deps.PriceCache != nil {
		opts = append(opts, quote.WithSharedPriceCache(deps.PriceCache))
	}
	if deps.RateLimiter != nil {
		opts = append(opts, quote.WithDistributedLimiter(deps.RateLimiter))
	}
	quotes, err := quote.NewService(sources, quote.Config{
		QuoteTTL:      cfg.Quote.QuoteTTL.Duration,
		PriceTTL:      cfg.Quote.PriceTTL.Duration,
		MaxEntries:    cfg.Quote.MaxEntries,
		CallTimeout:   cfg.Quote.CallTimeout.Duration,
		MaxPriceAge:   cfg.Quote.MaxPriceAge.Duration,
		RatePerSecond: cfg.Quote.RatePerSecond,
		Burst:         cfg.Quote.Burst,
		SharedLimit:   cfg.Quote.SharedLimit,
		SharedWindow:  cfg.Quote.SharedWindow.Duration,
	}, deps.Metrics, a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	var sinks []events.Sink
	if deps.SignalBus != nil {
		sinks = append(sinks, events.NewBusSink(deps.SignalBus))
	}
	if cfg.Kafka.Enabled {
		k := events.NewKafkaSink(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		a.closers = append(a.closers, func() { _ = k.Close() })
		sinks = append(sinks, k)
	}
	publisher := events.NewPublisher(cfg.Events.BufferSize, cfg.Events.SinkTimeout.Duration, deps.Metrics, a.logger, sinks...)

	// The DCA scheduler also serves resume requests, which never execute.
	dca := scheduler.NewDCAScheduler(deps.Stores.DCA, nil, quotes, publisher,
		scheduler.DCAConfig{PauseAfterFailures: cfg.DCA.PauseAfterFailures}, nil, a.logger)

	return &core{
		quotes:    quotes,
		publisher: publisher,
		dca:       dca,
		intake:    service.NewIntake(deps.Stores, quotes, publisher, deps.Locks, dca, a.logger),
	}, nil
}

// buildScheduler creates the wallet, executor and the four tick loops.
func (a *App) buildScheduler(ctx context.Context, deps *Dependencies, c *core) (*scheduler.Orchestrator, error) {
	cfg := a.cfg

	wallet, err := a.buildWallet(ctx)
	if err != nil {
		return nil, err
	}

	var execOpts []executor.Option
	if cfg.Risk.Enabled {
		gate := executor.NewRiskGate(
			auditor.New(auditor.Config{
				BaseURL: cfg.Risk.AuditorURL,
				APIKey:  cfg.Risk.AuditorAPIKey,
				Timeout: cfg.Risk.Timeout.Duration,
			}),
			executor.RiskConfig{
				MaxScore: cfg.Risk.MaxScore,
				Weights:  cfg.Risk.Weights,
				CacheTTL: cfg.Risk.CacheTTL.Duration,
				FailOpen: cfg.Risk.FailOpen,
			},
			a.logger,
		)
		execOpts = append(execOpts, executor.WithRiskGate(gate))
	}

	exec := executor.New(deps.Stores.Swaps, c.quotes, wallet, deps.Locks, c.publisher, executor.Config{
		MaxStepRetries:      cfg.Executor.MaxStepRetries,
		BaseBackoff:         cfg.Executor.BaseBackoff.Duration,
		MaxBackoff:          cfg.Executor.MaxBackoff.Duration,
		StepTimeout:         cfg.Executor.StepTimeout.Duration,
		StepDeadline:        cfg.Executor.StepDeadline.Duration,
		MaxPriceImpactBps:   cfg.Executor.MaxPriceImpactBps,
		DefaultSlippageBps:  cfg.Executor.DefaultSlippageBps,
		Lease:               cfg.Executor.Lease.Duration,
		RefundRetryInterval: cfg.Executor.RefundRetryInterval.Duration,
		MaxRefundAttempts:   cfg.Executor.MaxRefundAttempts,
	}, deps.Metrics, a.logger, execOpts...)

	dca := scheduler.NewDCAScheduler(deps.Stores.DCA, exec, c.quotes, c.publisher,
		scheduler.DCAConfig{PauseAfterFailures: cfg.DCA.PauseAfterFailures}, nil, a.logger)
	orders := scheduler.NewLimitOrderMonitor(deps.Stores.Orders, exec, c.quotes, c.publisher,
		scheduler.LimitOrderConfig{
			MaxPriceAge: cfg.LimitOrder.MaxPriceAge.Duration,
			FailAfter:   cfg.LimitOrder.FailAfter,
		}, nil, a.logger)
	alerts := scheduler.NewAlertEngine(deps.Stores.Alerts, c.quotes, deps.Notifier, c.publisher,
		scheduler.AlertConfig{
			MaxPriceAge:   cfg.Alert.MaxPriceAge.Duration,
			NotifyTimeout: cfg.Alert.NotifyTimeout.Duration,
		}, nil, deps.Metrics, a.logger)

	runners := []scheduler.Runner{
		// The executor takes the swap lock itself.
		scheduler.NewLoop[domain.Swap]("swap", loopConfig(cfg.Scheduler.Swap),
			scheduler.NewSwapLoop(deps.Stores.Swaps, exec, a.logger), nil, nil, nil, deps.Metrics, a.logger),
		scheduler.NewLoop[domain.DCAStrategy]("dca", loopConfig(cfg.Scheduler.DCA), dca, deps.Locks, nil, nil, deps.Metrics, a.logger),
		scheduler.NewLoop[domain.LimitOrder]("limit_order", loopConfig(cfg.Scheduler.LimitOrder), orders, deps.Locks, nil, nil, deps.Metrics, a.logger),
		scheduler.NewLoop[domain.PriceAlert]("alert", loopConfig(cfg.Scheduler.Alert), alerts, deps.Locks, nil, nil, deps.Metrics, a.logger),
	}
	if deps.Archiver != nil {
		runners = append(runners, scheduler.NewRetention(deps.Archiver, cfg.Retention.Keep.Duration, cfg.Retention.Cron, nil, a.logger))
	}
	return scheduler.NewOrchestrator(a.logger, runners...), nil
}

// buildWallet loads the signing key and returns the relayer client.
func (a *App) buildWallet(ctx context.Context) (domain.Wallet, error) {
	w := a.cfg.Wallet
	pk, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    w.PrivateKey,
		EncryptedKeyPath: w.EncryptedKeyPath,
		KeyPassword:      w.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: wallet key: %w", err)
	}
	signer := crypto.NewIntentSigner(pk, w.DomainName)

	var auth *crypto.HMACAuth
	if w.RelayerAPIKey != "" {
		auth = &crypto.HMACAuth{Key: w.RelayerAPIKey, Secret: w.RelayerAPISecret}
	}
	a.logger.InfoContext(ctx, "wallet loaded", slog.String("address", signer.Address().Hex()))
	return relayer.New(relayer.Config{
		BaseURL:      w.RelayerURL,
		Timeout:      w.Timeout.Duration,
		PollInterval: w.PollInterval.Duration,
	}, signer, auth, a.logger), nil
}

// startHTTPServer registers the API and the WebSocket hub on the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core, feed <-chan events.Delivery) {
	hub := ws.NewHub(feed, a.logger)
	g.Go(func() error { return ignoreCancel(ctx, hub.Run(ctx)) })

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, deps.Pingers, a.logger),
		Entity:  handler.NewEntityHandler(c.intake, deps.Stores, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, hub, a.logger)

	g.Go(func() error { return ignoreCancel(ctx, srv.Run(ctx)) })
}

func loopConfig(l config.LoopSettings) scheduler.LoopConfig {
	return scheduler.LoopConfig{
		Interval:      l.Interval.Duration,
		BatchSize:     l.BatchSize,
		Workers:       l.Workers,
		EntityTimeout: l.EntityTimeout.Duration,
	}
}

// ignoreCancel turns the error of a runner stopped by ctx into a clean exit.
func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
