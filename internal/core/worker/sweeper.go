package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/gaswatch/internal/indexing/metrics"
)

// RecordPruner is the slice of the record store the sweeper needs.
type RecordPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Reclaim(ctx context.Context) error
}

// SweeperConfig configures the retention sweeper.
type SweeperConfig struct {
	Retention      time.Duration
	Interval       time.Duration
	ReclaimMinRows int64
}

// Sweeper deletes records older than the retention horizon.
type Sweeper struct {
	cfg   SweeperConfig
	store RecordPruner
	now   func() time.Time
}

// NewSweeper creates a new Sweeper worker.
func NewSweeper(cfg SweeperConfig, store RecordPruner) *Sweeper {
	if cfg.ReclaimMinRows <= 0 {
		cfg.ReclaimMinRows = 1
	}
	return &Sweeper{cfg: cfg, store: store, now: time.Now}
}

// Sweep deletes expired records and reclaims storage when enough rows went away.
// It returns the number of deleted rows.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if s.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.Retention)

	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete records older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.RetentionDeleted.Add(float64(deleted))
	if deleted == 0 {
		return 0, nil
	}

	slog.Info("Retention sweep removed records", "deleted", deleted, "cutoff", cutoff)
	if deleted >= s.cfg.ReclaimMinRows {
		if err := s.store.Reclaim(ctx); err != nil {
			return deleted, fmt.Errorf("reclaim storage: %w", err)
		}
	}
	return deleted, nil
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return // Retention disabled
	}

	interval := s.cfg.Interval
	if interval <= 0 {
		// 10% of the retention period, between 1 minute and 1 hour
		interval = min(s.cfg.Retention/10, time.Hour)
		interval = max(interval, time.Minute)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("Retention sweep failed", "error", err)
	}
}
