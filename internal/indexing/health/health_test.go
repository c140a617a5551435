package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/gaswatch/internal/indexing/metrics"
)

type stubTracker struct{ snap metrics.Snapshot }

func (s *stubTracker) Snapshot() metrics.Snapshot { return s.snap }

type stubWrites struct {
	pending  int
	failures int64
}

func (s *stubWrites) Pending() int               { return s.pending }
func (s *stubWrites) ConsecutiveFailures() int64 { return s.failures }

type stubQueue struct {
	depth int64
	err   error
}

func (s *stubQueue) Len(ctx context.Context) (int64, error) { return s.depth, s.err }

type stubStore struct{ err error }

func (s *stubStore) Health(ctx context.Context) error { return s.err }

func newMonitor(now time.Time, tracker SnapshotSource, writes WriteQueue, queue QueueDepth, store Pinger) *Monitor {
	m := NewMonitor(tracker, writes, queue, store, nil)
	m.now = func() time.Time { return now }
	return m
}

func TestMonitor_Healthy(t *testing.T) {
	now := time.Now()
	m := newMonitor(now,
		&stubTracker{snap: metrics.Snapshot{LastSyncTime: now.Add(-2 * time.Second), LastProcessedHeight: 42}},
		&stubWrites{pending: 3}, &stubQueue{}, &stubStore{})

	r := m.CheckHealth(context.Background())
	if r.SystemStatus != StatusHealthy {
		t.Fatalf("expected healthy, got %s (%+v)", r.SystemStatus, r.Components)
	}
	if r.PendingWrites != 3 || r.Metrics.LastProcessedHeight != 42 {
		t.Errorf("report missing data: %+v", r)
	}
}

func TestMonitor_StatusEscalation(t *testing.T) {
	now := time.Now()
	fresh := &stubTracker{snap: metrics.Snapshot{LastSyncTime: now}}

	tests := []struct {
		name    string
		tracker *stubTracker
		writes  *stubWrites
		queue   *stubQueue
		store   *stubStore
		want    SystemStatus
	}{
		{"store down", fresh, &stubWrites{}, &stubQueue{}, &stubStore{err: errors.New("refused")}, StatusCritical},
		{"one failed flush", fresh, &stubWrites{failures: 1}, &stubQueue{}, &stubStore{}, StatusDegraded},
		{"repeated failed flushes", fresh, &stubWrites{failures: 3}, &stubQueue{}, &stubStore{}, StatusCritical},
		{"retry backlog", fresh, &stubWrites{}, &stubQueue{depth: 500}, &stubStore{}, StatusDegraded},
		{"never synced", &stubTracker{}, &stubWrites{}, &stubQueue{}, &stubStore{}, StatusDegraded},
		{"stale feed", &stubTracker{snap: metrics.Snapshot{LastSyncTime: now.Add(-2 * time.Minute)}}, &stubWrites{}, &stubQueue{}, &stubStore{}, StatusDegraded},
		{"dead feed", &stubTracker{snap: metrics.Snapshot{LastSyncTime: now.Add(-time.Hour)}}, &stubWrites{}, &stubQueue{}, &stubStore{}, StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMonitor(now, tt.tracker, tt.writes, tt.queue, tt.store)
			if got := m.CheckHealth(context.Background()).SystemStatus; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMonitor_ConfiguredThresholds(t *testing.T) {
	now := time.Now()
	tracker := &stubTracker{snap: metrics.Snapshot{LastSyncTime: now.Add(-2 * time.Minute)}}

	m := newMonitor(now, tracker, &stubWrites{failures: 1}, &stubQueue{depth: 500}, &stubStore{}).
		WithThresholds(Thresholds{StaleAfter: 5 * time.Minute, FlushFailures: 1})

	r := m.CheckHealth(context.Background())
	if r.Components["ingest"].Status != StatusHealthy {
		t.Errorf("2m lag is within a 5m stale threshold: %+v", r.Components["ingest"])
	}
	if r.Components["batcher"].Status != StatusCritical {
		t.Errorf("one failure should be critical at threshold 1: %+v", r.Components["batcher"])
	}
	if r.Components["backfill"].Status != StatusDegraded {
		t.Errorf("unset backlog threshold should keep its default: %+v", r.Components["backfill"])
	}
	if m.thresholds.CriticalAfter != DefaultThresholds.CriticalAfter {
		t.Errorf("zero critical_after should fall back, got %s", m.thresholds.CriticalAfter)
	}
}

func TestMonitor_RedisDownDegrades(t *testing.T) {
	now := time.Now()
	fresh := &stubTracker{snap: metrics.Snapshot{LastSyncTime: now}}
	m := newMonitor(now, fresh, &stubWrites{}, &stubQueue{}, &stubStore{}).
		WithRedis(&stubStore{err: errors.New("dial tcp: connection refused")})

	r := m.CheckHealth(context.Background())
	if r.SystemStatus != StatusDegraded {
		t.Fatalf("expected degraded, got %s", r.SystemStatus)
	}
	if c := r.Components["redis"]; c.Status != StatusDegraded || c.Detail == "" {
		t.Errorf("unexpected redis component %+v", c)
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	now := time.Now()
	store := &stubStore{}
	m := newMonitor(now, &stubTracker{snap: metrics.Snapshot{LastSyncTime: now}}, nil, nil, store)

	first := m.CheckHealth(context.Background())
	store.err = errors.New("down")
	if second := m.CheckHealth(context.Background()); second != first {
		t.Error("expected cached report within cache window")
	}

	m.now = func() time.Time { return now.Add(time.Minute) }
	if third := m.CheckHealth(context.Background()); third.Components["store"].Status != StatusCritical {
		t.Errorf("expected refreshed report, got %+v", third.Components)
	}
}

func TestHandler_CriticalReturns503(t *testing.T) {
	now := time.Now()
	m := newMonitor(now, &stubTracker{snap: metrics.Snapshot{LastSyncTime: now}}, nil, nil, &stubStore{err: errors.New("down")})
	h := NewHandler(m)

	rec := httptest.NewRecorder()
	h.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != string(StatusCritical) {
		t.Errorf("unexpected body %v", body)
	}

	rec = httptest.NewRecorder()
	h.ServeDetailed(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var report HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Components["store"].Detail != "down" {
		t.Errorf("expected store detail in report, got %+v", report.Components)
	}
}
