package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsObserved tracks records accepted per feed
	RecordsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaswatch_records_observed_total",
			Help: "Total number of block records observed",
		},
		[]string{"feed"},
	)

	// NullValues tracks polls that returned no usable value
	NullValues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaswatch_null_values_total",
			Help: "Total number of incomplete feed responses",
		},
		[]string{"feed"},
	)

	// APIErrors tracks feed requests that failed after retries
	APIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaswatch_api_errors_total",
			Help: "Total number of upstream errors",
		},
		[]string{"feed"},
	)

	// MissedBlocks tracks heights skipped by the authoritative feed
	MissedBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaswatch_missed_blocks_total",
			Help: "Total number of heights skipped between polls",
		},
	)

	// ClampedBlocks tracks missed heights beyond the backfill cap
	ClampedBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaswatch_clamped_blocks_total",
			Help: "Total number of missed heights not reconciled due to the gap cap",
		},
	)

	// LastProcessedHeight tracks the latest authoritative height
	LastProcessedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaswatch_last_processed_height",
			Help: "Latest height processed from the authoritative feed",
		},
	)

	// RPCCallsTotal tracks upstream calls
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaswatch_rpc_calls_total",
			Help: "Total number of upstream calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks failed upstream calls by class
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaswatch_rpc_errors_total",
			Help: "Total number of upstream call errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks upstream call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaswatch_rpc_latency_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// BufferEntries tracks the recent window size
	BufferEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaswatch_buffer_entries",
			Help: "Number of records held in the recent window buffer",
		},
	)

	// BatcherPending tracks staged writes awaiting flush
	BatcherPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaswatch_batcher_pending",
			Help: "Number of staged writes awaiting flush",
		},
	)

	// FlushDuration tracks write-back flush latency
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaswatch_flush_duration_seconds",
			Help:    "Write-back flush duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FlushErrors tracks failed flushes
	FlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaswatch_flush_errors_total",
			Help: "Total number of failed write-back flushes",
		},
	)

	// BackfillOutcomes tracks backfill lookups by result
	BackfillOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaswatch_backfill_heights_total",
			Help: "Backfilled heights by outcome",
		},
		[]string{"outcome"}, // filled, failed, dropped, skipped
	)

	// RetryQueueDepth tracks heights waiting for another backfill attempt
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaswatch_backfill_retry_queue_depth",
			Help: "Heights queued for backfill retry",
		},
	)

	// RetentionDeleted tracks rows removed by the sweeper
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaswatch_retention_deleted_total",
			Help: "Total number of records removed by retention",
		},
	)

	// QueryDuration tracks range query latency per timeframe
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaswatch_query_duration_seconds",
			Help:    "Range query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"range"},
	)

	// LiveClients tracks connected live stream subscribers
	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaswatch_live_clients",
			Help: "Number of connected live stream clients",
		},
	)

	// ProviderStatus is 0 healthy, 1 degraded, 2 throttled, 3 blocked
	ProviderStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gaswatch_provider_status",
			Help: "Upstream provider status (0 healthy, 1 degraded, 2 throttled, 3 blocked)",
		},
		[]string{"provider"},
	)

	// DBConnectionPoolUsage tracks the percentage of used connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaswatch_db_connection_pool_usage",
			Help: "Percentage of database connection pool in use",
		},
	)
)
