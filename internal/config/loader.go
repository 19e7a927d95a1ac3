package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWAPENGINE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWAPENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SWAPENGINE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SWAPENGINE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SWAPENGINE_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.RelayerURL, "SWAPENGINE_WALLET_RELAYER_URL")
	setStr(&cfg.Wallet.RelayerAPIKey, "SWAPENGINE_WALLET_RELAYER_API_KEY")
	setStr(&cfg.Wallet.RelayerAPISecret, "SWAPENGINE_WALLET_RELAYER_API_SECRET")
	setDuration(&cfg.Wallet.PollInterval, "SWAPENGINE_WALLET_POLL_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SWAPENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SWAPENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWAPENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SWAPENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SWAPENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWAPENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWAPENGINE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SWAPENGINE_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SWAPENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWAPENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWAPENGINE_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "SWAPENGINE_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "SWAPENGINE_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "SWAPENGINE_KAFKA_TOPIC")

	// ── Quote ──
	setDuration(&cfg.Quote.QuoteTTL, "SWAPENGINE_QUOTE_QUOTE_TTL")
	setDuration(&cfg.Quote.PriceTTL, "SWAPENGINE_QUOTE_PRICE_TTL")
	setDuration(&cfg.Quote.CallTimeout, "SWAPENGINE_QUOTE_CALL_TIMEOUT")
	setFloat64(&cfg.Quote.RatePerSecond, "SWAPENGINE_QUOTE_RATE_PER_SECOND")
	// Source API keys by position: SWAPENGINE_QUOTE_SOURCE_0_API_KEY.
	for i := range cfg.Quote.Sources {
		setStr(&cfg.Quote.Sources[i].APIKey, "SWAPENGINE_QUOTE_SOURCE_"+strconv.Itoa(i)+"_API_KEY")
	}

	// ── Executor ──
	setInt(&cfg.Executor.MaxStepRetries, "SWAPENGINE_EXECUTOR_MAX_STEP_RETRIES")
	setDuration(&cfg.Executor.StepTimeout, "SWAPENGINE_EXECUTOR_STEP_TIMEOUT")
	setInt(&cfg.Executor.MaxPriceImpactBps, "SWAPENGINE_EXECUTOR_MAX_PRICE_IMPACT_BPS")
	setInt(&cfg.Executor.DefaultSlippageBps, "SWAPENGINE_EXECUTOR_DEFAULT_SLIPPAGE_BPS")
	setDuration(&cfg.Executor.LockTTL, "SWAPENGINE_EXECUTOR_LOCK_TTL")

	// ── Risk ──
	setBool(&cfg.Risk.Enabled, "SWAPENGINE_RISK_ENABLED")
	setStr(&cfg.Risk.AuditorURL, "SWAPENGINE_RISK_AUDITOR_URL")
	setStr(&cfg.Risk.AuditorAPIKey, "SWAPENGINE_RISK_AUDITOR_API_KEY")
	setFloat64(&cfg.Risk.MaxScore, "SWAPENGINE_RISK_MAX_SCORE")
	setBool(&cfg.Risk.FailOpen, "SWAPENGINE_RISK_FAIL_OPEN")

	// ── Policy ──
	setInt(&cfg.DCA.PauseAfterFailures, "SWAPENGINE_DCA_PAUSE_AFTER_FAILURES")
	setInt(&cfg.LimitOrder.FailAfter, "SWAPENGINE_LIMIT_ORDER_FAIL_AFTER")
	setDuration(&cfg.LimitOrder.MaxPriceAge, "SWAPENGINE_LIMIT_ORDER_MAX_PRICE_AGE")
	setDuration(&cfg.Alert.MaxPriceAge, "SWAPENGINE_ALERT_MAX_PRICE_AGE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SWAPENGINE_NOTIFY_TELEGRAM_TOKEN")
	setBool(&cfg.Notify.PushEnabled, "SWAPENGINE_NOTIFY_PUSH_ENABLED")
	setStr(&cfg.Notify.SMTPHost, "SWAPENGINE_NOTIFY_SMTP_HOST")
	setInt(&cfg.Notify.SMTPPort, "SWAPENGINE_NOTIFY_SMTP_PORT")
	setStr(&cfg.Notify.SMTPUsername, "SWAPENGINE_NOTIFY_SMTP_USERNAME")
	setStr(&cfg.Notify.SMTPPassword, "SWAPENGINE_NOTIFY_SMTP_PASSWORD")
	setStr(&cfg.Notify.EmailFrom, "SWAPENGINE_NOTIFY_EMAIL_FROM")

	// ── Retention ──
	setBool(&cfg.Retention.Enabled, "SWAPENGINE_RETENTION_ENABLED")
	setDuration(&cfg.Retention.Keep, "SWAPENGINE_RETENTION_KEEP")
	setStr(&cfg.Retention.Cron, "SWAPENGINE_RETENTION_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "SWAPENGINE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SWAPENGINE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SWAPENGINE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SWAPENGINE_SERVER_RATE_LIMIT")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPENGINE_MODE")
	setStr(&cfg.LogLevel, "SWAPENGINE_LOG_LEVEL")
	setStr(&cfg.Storage, "SWAPENGINE_STORAGE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
