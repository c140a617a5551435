package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/gaswatch/internal/indexing/metrics"
	"github.com/vietddude/gaswatch/internal/infra/rpc/provider"
)

// SnapshotSource provides the data-quality counters.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// WriteQueue reports the write-back state.
type WriteQueue interface {
	Pending() int
	ConsecutiveFailures() int64
}

// QueueDepth reports the backfill retry backlog.
type QueueDepth interface {
	Len(ctx context.Context) (int64, error)
}

// Pinger checks a backing service.
type Pinger interface {
	Health(ctx context.Context) error
}

// Thresholds decide when a reading turns degraded or critical.
type Thresholds struct {
	StaleAfter    time.Duration // no chain observation for this long is degraded
	CriticalAfter time.Duration // and this long is critical
	FlushFailures int64         // consecutive failed flushes before critical
	RetryBacklog  int64         // retry backlog before degraded
}

var DefaultThresholds = Thresholds{
	StaleAfter:    time.Minute,
	CriticalAfter: 10 * time.Minute,
	FlushFailures: 3,
	RetryBacklog:  100,
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	tracker    SnapshotSource
	writes     WriteQueue
	retryQueue QueueDepth
	store      Pinger
	redis      Pinger
	feeds      []provider.Provider
	thresholds Thresholds
	cacheFor   time.Duration
	now        func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor. Any source may be nil.
func NewMonitor(
	tracker SnapshotSource,
	writes WriteQueue,
	retryQueue QueueDepth,
	store Pinger,
	feeds []provider.Provider,
) *Monitor {
	return &Monitor{
		tracker:    tracker,
		writes:     writes,
		retryQueue: retryQueue,
		store:      store,
		feeds:      feeds,
		thresholds: DefaultThresholds,
		cacheFor:   5 * time.Second,
		now:        time.Now,
	}
}

// WithThresholds overrides the default thresholds. Zero fields keep
// their defaults.
func (m *Monitor) WithThresholds(t Thresholds) *Monitor {
	if t.StaleAfter <= 0 {
		t.StaleAfter = DefaultThresholds.StaleAfter
	}
	if t.CriticalAfter <= 0 {
		t.CriticalAfter = DefaultThresholds.CriticalAfter
	}
	if t.FlushFailures <= 0 {
		t.FlushFailures = DefaultThresholds.FlushFailures
	}
	if t.RetryBacklog <= 0 {
		t.RetryBacklog = DefaultThresholds.RetryBacklog
	}
	m.thresholds = t
	return m
}

// WithRedis adds the Redis connection backing the retry queue. An
// unreachable Redis only degrades the service: ingestion keeps running.
func (m *Monitor) WithRedis(p Pinger) *Monitor {
	m.redis = p
	return m
}

// CheckHealth builds a report, reusing a recent one to avoid hammering the store.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.cacheFor {
		return m.lastReport
	}

	r := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
		Feeds:        make(map[string]provider.HealthStatus),
		CheckedAt:    now,
	}
	set := func(name string, status SystemStatus, detail string) {
		r.Components[name] = ComponentHealth{Status: status, Detail: detail}
		r.SystemStatus = r.SystemStatus.worse(status)
	}

	if m.store != nil {
		if err := m.store.Health(ctx); err != nil {
			set("store", StatusCritical, err.Error())
		} else {
			set("store", StatusHealthy, "")
		}
	}
	if m.redis != nil {
		if err := m.redis.Health(ctx); err != nil {
			set("redis", StatusDegraded, err.Error())
		} else {
			set("redis", StatusHealthy, "")
		}
	}

	if m.writes != nil {
		r.PendingWrites = m.writes.Pending()
		r.FlushFailures = m.writes.ConsecutiveFailures()
		switch {
		case r.FlushFailures >= m.thresholds.FlushFailures:
			set("batcher", StatusCritical, fmt.Sprintf("%d consecutive flush failures", r.FlushFailures))
		case r.FlushFailures > 0:
			set("batcher", StatusDegraded, "last flush failed")
		default:
			set("batcher", StatusHealthy, "")
		}
	}

	if m.retryQueue != nil {
		depth, err := m.retryQueue.Len(ctx)
		switch {
		case err != nil:
			set("backfill", StatusDegraded, err.Error())
		case depth >= m.thresholds.RetryBacklog:
			set("backfill", StatusDegraded, fmt.Sprintf("%d heights awaiting retry", depth))
		default:
			set("backfill", StatusHealthy, "")
		}
		r.RetryQueueDepth = depth
	}

	if m.tracker != nil {
		r.Metrics = m.tracker.Snapshot()
		if r.Metrics.LastSyncTime.IsZero() {
			set("ingest", StatusDegraded, "no chain observation yet")
		} else {
			r.SyncLag = now.Sub(r.Metrics.LastSyncTime)
			switch {
			case r.SyncLag >= m.thresholds.CriticalAfter:
				set("ingest", StatusCritical, "chain feed stale for "+r.SyncLag.Round(time.Second).String())
			case r.SyncLag >= m.thresholds.StaleAfter:
				set("ingest", StatusDegraded, "chain feed stale for "+r.SyncLag.Round(time.Second).String())
			default:
				set("ingest", StatusHealthy, "")
			}
		}
	}

	for _, f := range m.feeds {
		h := f.GetHealth()
		r.Feeds[f.GetName()] = h
		if !f.IsAvailable() {
			set("feed:"+f.GetName(), StatusDegraded, "feed unavailable: "+h.Status)
		}
	}

	m.lastCheck = now
	m.lastReport = r
	return r
}
