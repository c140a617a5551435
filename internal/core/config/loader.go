package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		if cfg.Storage.Postgres.URL != "" {
			cfg.Storage.Driver = "postgres"
		} else {
			cfg.Storage.Driver = "badger"
		}
	}
	if cfg.Storage.Driver == "badger" && cfg.Storage.Badger.Path == "" && !cfg.Storage.Badger.InMemory {
		cfg.Storage.Badger.Path = "./data/gaswatch"
	}

	// Feeds
	if cfg.Feeds.Predictive.Interval == 0 {
		cfg.Feeds.Predictive.Interval = 5 * time.Second
	}
	if cfg.Feeds.Predictive.Timeout == 0 {
		cfg.Feeds.Predictive.Timeout = 4 * time.Second
	}
	if cfg.Feeds.Chain.Interval == 0 {
		cfg.Feeds.Chain.Interval = 500 * time.Millisecond
	}
	if cfg.Feeds.Chain.Timeout == 0 {
		cfg.Feeds.Chain.Timeout = 3 * time.Second
	}
	if cfg.Feeds.Retry.MaxAttempts == 0 {
		cfg.Feeds.Retry.MaxAttempts = 3
	}
	if cfg.Feeds.Retry.InitialDelay == 0 {
		cfg.Feeds.Retry.InitialDelay = 1 * time.Second
	}
	if cfg.Feeds.Retry.MaxDelay == 0 {
		cfg.Feeds.Retry.MaxDelay = 8 * time.Second
	}
	if cfg.Feeds.Retry.Multiplier == 0 {
		cfg.Feeds.Retry.Multiplier = 2.0
	}

	if cfg.Buffer.Window == 0 {
		cfg.Buffer.Window = 1 * time.Hour
	}
	if cfg.Buffer.EvictInterval == 0 {
		cfg.Buffer.EvictInterval = 30 * time.Second
	}

	if cfg.Batcher.FlushInterval == 0 {
		cfg.Batcher.FlushInterval = 5 * time.Second
	}
	if cfg.Batcher.MaxBatchSize == 0 {
		cfg.Batcher.MaxBatchSize = 1000
	}
	if cfg.Batcher.FlushTimeout == 0 {
		cfg.Batcher.FlushTimeout = 10 * time.Second
	}

	if cfg.Backfill.MaxGap == 0 {
		cfg.Backfill.MaxGap = 100
	}
	if cfg.Backfill.Concurrency == 0 {
		cfg.Backfill.Concurrency = 5
	}
	if cfg.Backfill.LookupTimeout == 0 {
		cfg.Backfill.LookupTimeout = 5 * time.Second
	}
	if cfg.Backfill.PassTimeout == 0 {
		cfg.Backfill.PassTimeout = 2 * time.Minute
	}
	if cfg.Backfill.RetryInterval == 0 {
		cfg.Backfill.RetryInterval = 1 * time.Minute
	}
	if cfg.Backfill.MaxAttempts == 0 {
		cfg.Backfill.MaxAttempts = 5
	}

	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 30
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = 1 * time.Hour
	}
	if cfg.Retention.ReclaimMinRows == 0 {
		cfg.Retention.ReclaimMinRows = 1
	}

	if cfg.Query.MaxPoints == 0 {
		cfg.Query.MaxPoints = 500
	}
	if cfg.Query.Timeout == 0 {
		cfg.Query.Timeout = 10 * time.Second
	}
}

// Validate checks settings that have no sensible default.
func (cfg *AppConfig) Validate() error {
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage.postgres.url is required for the postgres driver")
		}
	case "badger", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Retention.Days < 0 {
		return fmt.Errorf("retention.days must not be negative")
	}
	// 7d is the widest query timeframe
	if cfg.Retention.Days > 0 && cfg.Retention.Days < 7 {
		return fmt.Errorf("retention.days must be at least 7, got %d", cfg.Retention.Days)
	}
	if cfg.Backfill.Concurrency < 0 {
		return fmt.Errorf("backfill.concurrency must not be negative")
	}
	return nil
}
