package config

import (
	"time"

	redisclient "github.com/vietddude/gaswatch/internal/infra/redis"
	badgerstore "github.com/vietddude/gaswatch/internal/infra/storage/badger"
	"github.com/vietddude/gaswatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Storage   StorageConfig      `yaml:"storage"`
	Redis     redisclient.Config `yaml:"redis"`
	Feeds     FeedsConfig        `yaml:"feeds"`
	Buffer    BufferConfig       `yaml:"buffer"`
	Batcher   BatcherConfig      `yaml:"batcher"`
	Backfill  BackfillConfig     `yaml:"backfill"`
	Retention RetentionConfig    `yaml:"retention"`
	Query     QueryConfig        `yaml:"query"`
	Health    HealthConfig       `yaml:"health"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	Driver   string             `yaml:"driver"` // postgres, badger, memory
	Postgres postgres.Config    `yaml:"postgres"`
	Badger   badgerstore.Config `yaml:"badger"`
}

// FeedsConfig holds the two upstream sources and their shared retry policy.
type FeedsConfig struct {
	Predictive PredictiveFeedConfig `yaml:"predictive"`
	Chain      ChainFeedConfig      `yaml:"chain"`
	Retry      RetryConfig          `yaml:"retry"`
}

// PredictiveFeedConfig configures the gas price prediction source.
type PredictiveFeedConfig struct {
	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"api_key"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ChainFeedConfig configures the authoritative JSON-RPC source.
type ChainFeedConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RetryConfig defines per-poll retry behavior.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// BufferConfig configures the recent window buffer.
type BufferConfig struct {
	Window        time.Duration `yaml:"window"`
	EvictInterval time.Duration `yaml:"evict_interval"`
	MaxEntries    int           `yaml:"max_entries"` // 0 = bounded by window only
}

// BatcherConfig configures write-back batching.
type BatcherConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"` // per flush, also bounds the final flush
}

// BackfillConfig configures gap reconciliation.
type BackfillConfig struct {
	MaxGap        uint64        `yaml:"max_gap"`
	Concurrency   int           `yaml:"concurrency"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	PassTimeout   time.Duration `yaml:"pass_timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// RetentionConfig configures the retention sweeper.
type RetentionConfig struct {
	Days           int           `yaml:"days"`
	Interval       time.Duration `yaml:"interval"`
	ReclaimMinRows int64         `yaml:"reclaim_min_rows"`
}

// Period returns the retention horizon as a duration.
func (c RetentionConfig) Period() time.Duration {
	return time.Duration(c.Days) * 24 * time.Hour
}

// HealthConfig sets when /health reports degraded or critical.
// Zero values keep the built-in thresholds.
type HealthConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	CriticalAfter time.Duration `yaml:"critical_after"`
	FlushFailures int64         `yaml:"flush_failures"`
	RetryBacklog  int64         `yaml:"retry_backlog"`
}

// QueryConfig configures range queries.
type QueryConfig struct {
	MaxPoints int           `yaml:"max_points"`
	Timeout   time.Duration `yaml:"timeout"`
}
