package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/swapengine/internal/blob/s3"
	"github.com/alanyoungcy/swapengine/internal/cache/redis"
	"github.com/alanyoungcy/swapengine/internal/config"
	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/lock"
	"github.com/alanyoungcy/swapengine/internal/metrics"
	"github.com/alanyoungcy/swapengine/internal/notify"
	"github.com/alanyoungcy/swapengine/internal/server/handler"
	"github.com/alanyoungcy/swapengine/internal/service"
	"github.com/alanyoungcy/swapengine/internal/store/memory"
	"github.com/alanyoungcy/swapengine/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional members are nil when their backend is disabled.
type Dependencies struct {
	Stores service.Stores

	// Locks is Redis-backed when Redis is enabled, in-process otherwise.
	Locks       domain.ExecutionLock
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	Archiver domain.Archiver
	Notifier domain.Notifier
	Metrics  *metrics.Metrics

	// Pingers feed the health endpoint.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Pingers: make(map[string]handler.Pinger),
	}

	// --- Stores ---
	switch strings.ToLower(cfg.Storage) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.Info("wire: applied migrations", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.Stores = service.Stores{
			Swaps:    postgres.NewSwapStore(pool),
			DCA:      postgres.NewDCAStore(pool),
			Orders:   postgres.NewLimitOrderStore(pool),
			Alerts:   postgres.NewAlertStore(pool),
			Contacts: postgres.NewContactStore(pool),
			Audit:    postgres.NewAuditStore(pool),
		}
		deps.Pingers["postgres"] = pgClient
	default:
		logger.Warn("wire: using in-memory storage; state is lost on restart")
		deps.Stores = service.Stores{
			Swaps:    memory.NewSwapStore(),
			DCA:      memory.NewDCAStore(),
			Orders:   memory.NewLimitOrderStore(),
			Alerts:   memory.NewAlertStore(),
			Contacts: memory.NewContactStore(),
			Audit:    memory.NewAuditStore(),
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient, cfg.Executor.LockTTL.Duration)
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient
	} else {
		deps.Locks = lock.NewMemory(cfg.Executor.LockTTL.Duration, nil)
	}

	// --- S3 archive (retention needs the SQL store to delete from) ---
	if cfg.Retention.Enabled {
		objects, err := s3blob.NewStore(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewSwapArchiver(
			objects,
			deps.Stores.Swaps,
			deps.Stores.Audit,
			cfg.Retention.BatchSize,
		)
		deps.Pingers["s3"] = objects
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken))
	}
	if cfg.Notify.PushEnabled {
		senders = append(senders, notify.NewPushSender())
	}
	if cfg.Notify.SMTPHost != "" {
		senders = append(senders, notify.NewEmailSender(notify.EmailConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUsername,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.EmailFrom,
		}))
	}
	dispatcher := notify.NewDispatcher(deps.Stores.Contacts, cfg.Notify.RatePerSecond, logger, senders...)
	if len(dispatcher.Channels()) == 0 {
		logger.Warn("wire: no notification channel configured; alerts will not be delivered")
	}
	deps.Notifier = dispatcher

	return deps, cleanup, nil
}
