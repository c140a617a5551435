// Package backfill reconciles block heights skipped by the authoritative feed.
//
// # Flow
//
// The chain poll loop reports each new height. When it jumps past prev+1 the
// skipped heights form a Gap. Only the most recent MaxGap heights are
// reconciled; the rest are counted as clamped and left alone.
//
// For every candidate height not already stored or staged, a point lookup
// fetches the block time and a placeholder record is upserted. Lookups run
// with a fixed concurrency ceiling. A failed lookup is not retried within
// the pass; it goes to a RetryQueue that a background loop drains until
// MaxAttempts is reached.
//
// # Usage
//
//	p := backfill.NewProcessor(cfg, store, lookup, tracker, queue, batcher)
//
//	// inline in the poll loop, returns immediately
//	p.OnGap(ctx, 10, 13)
//
//	// background retries
//	go p.Run(ctx)
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
)

// Gap is an inclusive range of missed heights.
type Gap struct {
	FromBlock uint64
	ToBlock   uint64
}

// Len returns the number of heights in the gap.
func (g Gap) Len() uint64 {
	if g.ToBlock < g.FromBlock {
		return 0
	}
	return g.ToBlock - g.FromBlock + 1
}

// Heights lists the gap in ascending order.
func (g Gap) Heights() []uint64 {
	out := make([]uint64, g.Len())
	for i := range out {
		out[i] = g.FromBlock + uint64(i)
	}
	return out
}

// BlockTimeFetcher looks up the timestamp of a historical height.
type BlockTimeFetcher func(ctx context.Context, height uint64) (time.Time, error)

// Store is the subset of the record store backfill needs.
type Store interface {
	UpsertBatch(ctx context.Context, records []*domain.BlockRecord) error
	ExistingHeights(ctx context.Context, heights []uint64) (map[uint64]struct{}, error)
}

// Staged reports heights that are waiting in the write-back batcher.
type Staged interface {
	Has(height uint64) bool
}

// Tracker receives backfill error and clamp accounting.
type Tracker interface {
	RecordError(feed string)
	RecordClamped(n uint64)
}

// NewProcessor creates a processor. queue and staged may be nil.
func NewProcessor(
	cfg Config,
	store Store,
	fetch BlockTimeFetcher,
	tracker Tracker,
	queue RetryQueue,
	staged Staged,
) *Processor {
	cfg = cfg.withDefaults()
	if queue == nil {
		queue = NewMemoryQueue()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Processor{
		cfg:          cfg,
		detector:     NewDetector(cfg.MaxGap),
		store:        store,
		fetch:        fetch,
		tracker:      tracker,
		queue:        queue,
		staged:       staged,
		log:          slog.Default().With("component", "backfill"),
		base:         base,
		cancelPasses: cancel,
	}
}
