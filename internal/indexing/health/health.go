// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/gaswatch/internal/indexing/metrics"
	"github.com/vietddude/gaswatch/internal/infra/rpc/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

func (s SystemStatus) worse(o SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[o] > rank[s] {
		return o
	}
	return s
}

// ComponentHealth is the status of one part of the service.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus    SystemStatus                     `json:"system_status"`
	Components      map[string]ComponentHealth       `json:"components"`
	Feeds           map[string]provider.HealthStatus `json:"feeds"`
	Metrics         metrics.Snapshot                 `json:"metrics"`
	PendingWrites   int                              `json:"pending_writes"`
	FlushFailures   int64                            `json:"consecutive_flush_failures"`
	RetryQueueDepth int64                            `json:"retry_queue_depth"`
	SyncLag         time.Duration                    `json:"sync_lag_ns"`
	CheckedAt       time.Time                        `json:"checked_at"`
}
