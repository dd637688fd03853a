package config

import (
	"fmt"
	"strings"
)

// Validate checks required fields and cross-field constraints, reporting
// every problem at once.
func Validate(cfg *Config) error {
	var errs []string
	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", cfg.Log.Level))
	}

	if cfg.Engine.IngestWorkers < 1 {
		errs = append(errs, "engine.ingest_workers must be >= 1")
	}
	if cfg.Engine.QueueDepth < 1 {
		errs = append(errs, "engine.queue_depth must be >= 1")
	}
	if cfg.Engine.IngestTimeoutMs < 1 {
		errs = append(errs, "engine.ingest_timeout_ms must be >= 1")
	}
	if cfg.Engine.RetentionHours < 0 {
		errs = append(errs, "engine.retention_hours must not be negative")
	}

	switch cfg.Store.Driver {
	case "sqlite", "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, "store.dsn is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", cfg.Store.Driver))
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka.brokers must not be empty when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			errs = append(errs, "kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Previews.Enabled {
		if cfg.Previews.Endpoint == "" {
			errs = append(errs, "previews.endpoint is required when previews are enabled")
		}
		if cfg.Previews.Bucket == "" {
			errs = append(errs, "previews.bucket is required when previews are enabled")
		}
		if cfg.Previews.RefreshInterval < 0 {
			errs = append(errs, "previews.refresh_interval must not be negative")
		}
	}

	if _, err := cfg.Review.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("review.timezone %q: %v", cfg.Review.Timezone, err))
	}
	if cfg.Review.MaxCards < 1 {
		errs = append(errs, "review.max_cards must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
