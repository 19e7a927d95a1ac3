package config

import "maps"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Wallet.RelayerAPIKey)
	redact(&out.Wallet.RelayerAPISecret)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Risk.AuditorAPIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.SMTPPassword)

	redact(&out.Server.APIKey)

	// Sources is a slice of structs holding secrets; copy before redacting.
	if cfg.Quote.Sources != nil {
		out.Quote.Sources = make([]AggregatorConfig, len(cfg.Quote.Sources))
		copy(out.Quote.Sources, cfg.Quote.Sources)
		for i := range out.Quote.Sources {
			redact(&out.Quote.Sources[i].APIKey)
		}
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Kafka.Brokers != nil {
		out.Kafka.Brokers = append([]string(nil), cfg.Kafka.Brokers...)
	}
	out.Risk.Weights = maps.Clone(cfg.Risk.Weights)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
