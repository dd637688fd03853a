package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the top-level YAML structure. Every field can be overridden from
// the environment (CAMREVIEW_*).
type Config struct {
	Version  string       `yaml:"version" env:"CAMREVIEW_CONFIG_VERSION"`
	Log      LogConf      `yaml:"log"`
	Engine   EngineConf   `yaml:"engine"`
	Store    StoreConf    `yaml:"store"`
	Kafka    KafkaConf    `yaml:"kafka"`
	Previews PreviewsConf `yaml:"previews"`
	Review   ReviewConf   `yaml:"review"`
}

// LogConf selects the slog level.
type LogConf struct {
	Level string `yaml:"level" env:"CAMREVIEW_LOG_LEVEL"`
}

// SlogLevel maps Level onto slog; unknown values fall back to info.
func (l LogConf) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// EngineConf holds ingestion concurrency settings.
type EngineConf struct {
	IngestWorkers   int `yaml:"ingest_workers" env:"CAMREVIEW_INGEST_WORKERS"`
	QueueDepth      int `yaml:"queue_depth" env:"CAMREVIEW_QUEUE_DEPTH"`
	IngestTimeoutMs int `yaml:"ingest_timeout_ms" env:"CAMREVIEW_INGEST_TIMEOUT_MS"`
	RetentionHours  int `yaml:"retention_hours" env:"CAMREVIEW_RETENTION_HOURS"` // backfill window at startup
}

// StoreConf selects the event archive.
type StoreConf struct {
	Driver string `yaml:"driver" env:"CAMREVIEW_STORE_DRIVER"` // "sqlite" | "postgres"
	DSN    string `yaml:"dsn" env:"CAMREVIEW_STORE_DSN"`
}

// KafkaConf configures the live timeline feed.
type KafkaConf struct {
	Enabled bool     `yaml:"enabled" env:"CAMREVIEW_KAFKA_ENABLED"`
	Brokers []string `yaml:"brokers" env:"CAMREVIEW_KAFKA_BROKERS" envSeparator:","`
	GroupID string   `yaml:"group_id" env:"CAMREVIEW_KAFKA_GROUP_ID"`
	Topic   string   `yaml:"topic" env:"CAMREVIEW_KAFKA_TOPIC"`
}

// PreviewsConf configures the preview clip bucket.
type PreviewsConf struct {
	Enabled         bool          `yaml:"enabled" env:"CAMREVIEW_PREVIEWS_ENABLED"`
	Endpoint        string        `yaml:"endpoint" env:"CAMREVIEW_PREVIEWS_ENDPOINT"`
	AccessKey       string        `yaml:"access_key" env:"CAMREVIEW_PREVIEWS_ACCESS_KEY"`
	SecretKey       string        `yaml:"secret_key" env:"CAMREVIEW_PREVIEWS_SECRET_KEY"`
	Bucket          string        `yaml:"bucket" env:"CAMREVIEW_PREVIEWS_BUCKET"`
	Prefix          string        `yaml:"prefix" env:"CAMREVIEW_PREVIEWS_PREFIX"`
	Secure          bool          `yaml:"secure" env:"CAMREVIEW_PREVIEWS_SECURE"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"CAMREVIEW_PREVIEWS_REFRESH_INTERVAL"`
}

// ReviewConf holds settings that can be hot-reloaded into a running engine.
type ReviewConf struct {
	Timezone string `yaml:"timezone" env:"CAMREVIEW_TIMEZONE"` // IANA name used for day keys
	MaxCards int    `yaml:"max_cards" env:"CAMREVIEW_MAX_CARDS"`
}

// Location resolves Timezone, defaulting to UTC.
func (r ReviewConf) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}
