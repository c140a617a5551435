// Package query answers range queries over the store and the recent window.
package query

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/indexing/metrics"
)

// Reader reads persisted records in a time range, ordered by height.
type Reader interface {
	Range(ctx context.Context, from, to time.Time) ([]*domain.BlockRecord, error)
}

// RecentSource returns unflushed records buffered within d.
type RecentSource interface {
	Recent(d time.Duration) []*domain.BlockRecord
}

// SnapshotSource provides the data-quality counters.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// Point is one sample of a series. Value is null when unknown.
type Point struct {
	Height    uint64    `json:"height"`
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
}

// Response is the body of a range query.
type Response struct {
	Range      Timeframe         `json:"range"`
	Confidence domain.Confidence `json:"confidence"`
	Predicted  []Point           `json:"predicted"`
	Actual     []Point           `json:"actual"`
	Metrics    metrics.Snapshot  `json:"metrics"`
	Partial    bool              `json:"partial,omitempty"`
}

// Config configures the query service.
type Config struct {
	MaxPoints int
	Timeout   time.Duration
}

// Service builds range responses.
type Service struct {
	cfg     Config
	store   Reader
	recent  RecentSource
	tracker SnapshotSource
	now     func() time.Time
}

func NewService(cfg Config, store Reader, recent RecentSource, tracker SnapshotSource) *Service {
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{cfg: cfg, store: store, recent: recent, tracker: tracker, now: time.Now}
}

// QueryRange parses the raw range and confidence parameters and runs the query.
// Only invalid input returns an error.
func (s *Service) QueryRange(ctx context.Context, rangeParam, confidenceParam string) (*Response, error) {
	tf, err := ParseTimeframe(rangeParam)
	if err != nil {
		return nil, err
	}
	c, err := ParseConfidence(confidenceParam)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, tf, c), nil
}

// Query returns the sampled predicted and actual series for tf.
// Store failures degrade to whatever the recent window holds.
func (s *Service) Query(ctx context.Context, tf Timeframe, c domain.Confidence) *Response {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(string(tf)).Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	cutoff := now.Add(-tf.Duration())
	resp := &Response{Range: tf, Confidence: c}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	rows, err := s.store.Range(qctx, cutoff, now)
	if err != nil {
		slog.Warn("Range read failed, serving partial result", "range", tf, "error", err)
		resp.Partial = true
		rows = nil
	}

	if tf == Timeframe1h && s.recent != nil {
		rows = mergeRecent(rows, s.recent.Recent(tf.Duration()), cutoff)
	}

	sampled := Sample(rows, tf.Stride(), s.cfg.MaxPoints)
	resp.Predicted = make([]Point, len(sampled))
	resp.Actual = make([]Point, len(sampled))
	for i, rec := range sampled {
		resp.Predicted[i] = Point{Height: rec.Height, Timestamp: rec.ObservedAt, Value: rec.Predicted(c)}
		resp.Actual[i] = Point{Height: rec.Height, Timestamp: rec.ObservedAt, Value: rec.ActualPrice}
	}
	if s.tracker != nil {
		resp.Metrics = s.tracker.Snapshot()
	}
	return resp
}

// mergeRecent overlays buffered records onto stored rows by height.
func mergeRecent(rows, recent []*domain.BlockRecord, cutoff time.Time) []*domain.BlockRecord {
	if len(recent) == 0 {
		return rows
	}
	byHeight := make(map[uint64]*domain.BlockRecord, len(rows)+len(recent))
	for _, r := range rows {
		byHeight[r.Height] = r
	}
	for _, r := range recent {
		if !r.ObservedAt.IsZero() && r.ObservedAt.Before(cutoff) {
			continue
		}
		if cur, ok := byHeight[r.Height]; ok {
			merged := cur.Clone()
			merged.Merge(r)
			byHeight[r.Height] = merged
			continue
		}
		byHeight[r.Height] = r
	}

	out := make([]*domain.BlockRecord, 0, len(byHeight))
	for _, r := range byHeight {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}
