// Package config defines the swap engine configuration and its validation.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWAPENGINE_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Kafka      KafkaConfig      `toml:"kafka"`
	Quote      QuoteConfig      `toml:"quote"`
	Wallet     WalletConfig     `toml:"wallet"`
	Executor   ExecutorConfig   `toml:"executor"`
	Risk       RiskConfig       `toml:"risk"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	DCA        DCAConfig        `toml:"dca"`
	LimitOrder LimitOrderConfig `toml:"limit_order"`
	Alert      AlertConfig      `toml:"alert"`
	Events     EventsConfig     `toml:"events"`
	Notify     NotifyConfig     `toml:"notify"`
	Retention  RetentionConfig  `toml:"retention"`
	Server     ServerConfig     `toml:"server"`
	// Mode selects which runners start: scheduler, server or full.
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
	// Storage selects the store backend: memory or postgres.
	Storage string `toml:"storage"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled, Redis backs
// the execution lock, the shared price tier, the distributed quote limiter
// and the event bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig configures the optional Kafka event sink.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// AggregatorConfig is one quote source.
type AggregatorConfig struct {
	Name          string   `toml:"name"`
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Timeout       duration `toml:"timeout"`
	RatePerSecond float64  `toml:"rate_per_second"`
}

// QuoteConfig tunes the quote/price port.
type QuoteConfig struct {
	QuoteTTL      duration           `toml:"quote_ttl"`
	PriceTTL      duration           `toml:"price_ttl"`
	MaxEntries    int                `toml:"max_entries"`
	CallTimeout   duration           `toml:"call_timeout"`
	MaxPriceAge   duration           `toml:"max_price_age"`
	RatePerSecond float64            `toml:"rate_per_second"`
	Burst         int                `toml:"burst"`
	SharedLimit   int                `toml:"shared_limit"`
	SharedWindow  duration           `toml:"shared_window"`
	Sources       []AggregatorConfig `toml:"sources"`
}

// WalletConfig holds the relayer signing key and endpoint.
type WalletConfig struct {
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	RelayerURL       string   `toml:"relayer_url"`
	RelayerAPIKey    string   `toml:"relayer_api_key"`
	RelayerAPISecret string   `toml:"relayer_api_secret"`
	DomainName       string   `toml:"domain_name"`
	Timeout          duration `toml:"timeout"`
	PollInterval     duration `toml:"poll_interval"`
}

// ExecutorConfig tunes swap execution.
type ExecutorConfig struct {
	MaxStepRetries      int      `toml:"max_step_retries"`
	BaseBackoff         duration `toml:"base_backoff"`
	MaxBackoff          duration `toml:"max_backoff"`
	StepTimeout         duration `toml:"step_timeout"`
	StepDeadline        duration `toml:"step_deadline"`
	MaxPriceImpactBps   int      `toml:"max_price_impact_bps"`
	DefaultSlippageBps  int      `toml:"default_slippage_bps"`
	Lease               duration `toml:"lease"`
	RefundRetryInterval duration `toml:"refund_retry_interval"`
	MaxRefundAttempts   int      `toml:"max_refund_attempts"`
	// LockTTL bounds how long an execution lock survives a crashed holder.
	LockTTL duration `toml:"lock_ttl"`
}

// RiskConfig configures the pre-trade token screen.
type RiskConfig struct {
	Enabled       bool               `toml:"enabled"`
	AuditorURL    string             `toml:"auditor_url"`
	AuditorAPIKey string             `toml:"auditor_api_key"`
	Timeout       duration           `toml:"timeout"`
	MaxScore      float64            `toml:"max_score"`
	Weights       map[string]float64 `toml:"weights"`
	CacheTTL      duration           `toml:"cache_ttl"`
	FailOpen      bool               `toml:"fail_open"`
}

// LoopSettings configures one tick loop.
type LoopSettings struct {
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
	Workers       int      `toml:"workers"`
	EntityTimeout duration `toml:"entity_timeout"`
}

// SchedulerConfig holds the per-entity-class loop settings.
type SchedulerConfig struct {
	Swap       LoopSettings `toml:"swap"`
	DCA        LoopSettings `toml:"dca"`
	LimitOrder LoopSettings `toml:"limit_order"`
	Alert      LoopSettings `toml:"alert"`
}

// DCAConfig holds DCA policy.
type DCAConfig struct {
	PauseAfterFailures int `toml:"pause_after_failures"`
}

// LimitOrderConfig holds limit order policy.
type LimitOrderConfig struct {
	MaxPriceAge duration `toml:"max_price_age"`
	FailAfter   int      `toml:"fail_after"`
}

// AlertConfig holds alert policy.
type AlertConfig struct {
	MaxPriceAge   duration `toml:"max_price_age"`
	NotifyTimeout duration `toml:"notify_timeout"`
}

// EventsConfig tunes the event publisher.
type EventsConfig struct {
	BufferSize  int      `toml:"buffer_size"`
	SinkTimeout duration `toml:"sink_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken string  `toml:"telegram_token"`
	PushEnabled   bool    `toml:"push_enabled"`
	SMTPHost      string  `toml:"smtp_host"`
	SMTPPort      int     `toml:"smtp_port"`
	SMTPUsername  string  `toml:"smtp_username"`
	SMTPPassword  string  `toml:"smtp_password"`
	EmailFrom     string  `toml:"email_from"`
	RatePerSecond float64 `toml:"rate_per_second"`
}

// RetentionConfig controls archival of terminal swaps to S3.
type RetentionConfig struct {
	Enabled   bool     `toml:"enabled"`
	Keep      duration `toml:"keep"`
	Cron      string   `toml:"cron"`
	BatchSize int      `toml:"batch_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"` // comma separated for rotation
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func loop(interval time.Duration, batch, workers int, timeout time.Duration) LoopSettings {
	return LoopSettings{
		Interval:      duration{interval},
		BatchSize:     batch,
		Workers:       workers,
		EntityTimeout: duration{timeout},
	}
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swapengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  20,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "swapengine:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "swapengine-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic: "swapengine.events",
		},
		Quote: QuoteConfig{
			QuoteTTL:      duration{5 * time.Second},
			PriceTTL:      duration{10 * time.Second},
			MaxEntries:    10_000,
			CallTimeout:   duration{5 * time.Second},
			MaxPriceAge:   duration{30 * time.Second},
			RatePerSecond: 20,
			Burst:         40,
			SharedLimit:   600,
			SharedWindow:  duration{time.Minute},
		},
		Wallet: WalletConfig{
			DomainName:   "SwapEngine Relayer",
			Timeout:      duration{15 * time.Second},
			PollInterval: duration{2 * time.Second},
		},
		Executor: ExecutorConfig{
			MaxStepRetries:      3,
			BaseBackoff:         duration{2 * time.Second},
			MaxBackoff:          duration{30 * time.Second},
			StepTimeout:         duration{90 * time.Second},
			StepDeadline:        duration{5 * time.Minute},
			MaxPriceImpactBps:   300,
			DefaultSlippageBps:  50,
			Lease:               duration{3 * time.Minute},
			RefundRetryInterval: duration{30 * time.Second},
			MaxRefundAttempts:   5,
			LockTTL:             duration{5 * time.Minute},
		},
		Risk: RiskConfig{
			Timeout:  duration{5 * time.Second},
			MaxScore: 0.7,
			Weights: map[string]float64{
				"honeypot":      5,
				"owner_control": 2,
				"tax":           1,
				"liquidity":     2,
			},
			CacheTTL: duration{10 * time.Minute},
		},
		Scheduler: SchedulerConfig{
			Swap:       loop(10*time.Second, 50, 8, 4*time.Minute),
			DCA:        loop(30*time.Second, 100, 8, 4*time.Minute),
			LimitOrder: loop(5*time.Second, 200, 16, 4*time.Minute),
			Alert:      loop(15*time.Second, 500, 16, 30*time.Second),
		},
		DCA: DCAConfig{
			PauseAfterFailures: 3,
		},
		LimitOrder: LimitOrderConfig{
			MaxPriceAge: duration{30 * time.Second},
			FailAfter:   5,
		},
		Alert: AlertConfig{
			MaxPriceAge:   duration{60 * time.Second},
			NotifyTimeout: duration{10 * time.Second},
		},
		Events: EventsConfig{
			BufferSize:  4096,
			SinkTimeout: duration{2 * time.Second},
		},
		Notify: NotifyConfig{
			SMTPPort:      587,
			RatePerSecond: 10,
		},
		Retention: RetentionConfig{
			Keep:      duration{90 * 24 * time.Hour},
			Cron:      "0 3 * * *",
			BatchSize: 1000,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
		Storage:  "postgres",
	}
}

var validModes = map[string]bool{
	"scheduler": true,
	"server":    true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStorage = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scheduler, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validStorage[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: memory, postgres)", c.Storage))
	}

	// Postgres
	if strings.EqualFold(c.Storage, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty when enabled")
		}
	}

	// Alert intake needs prices too, so every mode needs a source.
	if len(c.Quote.Sources) == 0 {
		errs = append(errs, "quote: at least one source is required")
	}
	for i, s := range c.Quote.Sources {
		if s.Name == "" || s.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("quote: sources[%d] needs name and base_url", i))
		}
	}

	// The wallet is only needed by the loops.
	if c.Mode == "scheduler" || c.Mode == "full" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Wallet.RelayerURL == "" {
			errs = append(errs, "wallet: relayer_url must not be empty")
		}
	}
	if c.Quote.QuoteTTL.Duration <= 0 || c.Quote.PriceTTL.Duration <= 0 {
		errs = append(errs, "quote: quote_ttl and price_ttl must be > 0")
	}
	if c.Quote.QuoteTTL.Duration > time.Minute || c.Quote.PriceTTL.Duration > time.Minute {
		errs = append(errs, "quote: cache TTLs are seconds-scale and must not exceed 1m")
	}

	// Executor
	if c.Executor.MaxStepRetries < 0 {
		errs = append(errs, "executor: max_step_retries must be >= 0")
	}
	if c.Executor.StepTimeout.Duration <= 0 {
		errs = append(errs, "executor: step_timeout must be > 0")
	}
	if c.Executor.DefaultSlippageBps <= 0 || c.Executor.DefaultSlippageBps >= 10_000 {
		errs = append(errs, "executor: default_slippage_bps must be in (0, 10000)")
	}
	if c.Executor.LockTTL.Duration <= c.Executor.StepTimeout.Duration {
		errs = append(errs, "executor: lock_ttl must exceed step_timeout")
	}

	// Risk
	if c.Risk.Enabled {
		if c.Risk.AuditorURL == "" {
			errs = append(errs, "risk: auditor_url must not be empty when enabled")
		}
		if c.Risk.MaxScore <= 0 || c.Risk.MaxScore > 1 {
			errs = append(errs, fmt.Sprintf("risk: max_score must be in (0, 1], got %g", c.Risk.MaxScore))
		}
		for name, w := range c.Risk.Weights {
			if w < 0 {
				errs = append(errs, fmt.Sprintf("risk: weight %q must be >= 0", name))
			}
		}
	}

	// Scheduler
	for name, l := range map[string]LoopSettings{
		"swap":        c.Scheduler.Swap,
		"dca":         c.Scheduler.DCA,
		"limit_order": c.Scheduler.LimitOrder,
		"alert":       c.Scheduler.Alert,
	} {
		if l.Interval.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("scheduler.%s: interval must be > 0", name))
		}
		if l.Workers < 1 {
			errs = append(errs, fmt.Sprintf("scheduler.%s: workers must be >= 1", name))
		}
		if l.BatchSize < 1 {
			errs = append(errs, fmt.Sprintf("scheduler.%s: batch_size must be >= 1", name))
		}
		// Locks are not renewed, so an entity must finish before its lock lapses.
		if l.EntityTimeout.Duration <= 0 || l.EntityTimeout.Duration > c.Executor.LockTTL.Duration {
			errs = append(errs, fmt.Sprintf("scheduler.%s: entity_timeout must be in (0, executor.lock_ttl=%s]",
				name, c.Executor.LockTTL.Duration))
		}
	}

	if c.DCA.PauseAfterFailures < 0 {
		errs = append(errs, "dca: pause_after_failures must be >= 0")
	}
	if c.LimitOrder.FailAfter < 0 {
		errs = append(errs, "limit_order: fail_after must be >= 0")
	}
	if c.Events.BufferSize < 1 {
		errs = append(errs, "events: buffer_size must be >= 1")
	}

	if c.Retention.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when retention is enabled")
		}
		if c.Retention.Keep.Duration <= 0 {
			errs = append(errs, "retention: keep must be > 0")
		}
		if !strings.EqualFold(c.Storage, "postgres") {
			errs = append(errs, "retention: requires postgres storage")
		}
	}

	if c.Mode == "server" || c.Mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		// Map iteration above is unordered.
		sort.Strings(errs)
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
