package batcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/indexing/metrics"
)

// Writer persists a batch of records atomically.
type Writer interface {
	UpsertBatch(ctx context.Context, records []*domain.BlockRecord) error
}

// Config holds configuration for the batcher.
type Config struct {
	FlushInterval time.Duration
	MaxBatchSize  int           // early flush threshold, 0 disables
	FlushTimeout  time.Duration // per flush
}

// Batcher coalesces pending writes by height and flushes them on a cadence.
type Batcher struct {
	cfg   Config
	store Writer
	log   *slog.Logger

	mu       sync.Mutex
	staged   map[uint64]*domain.BlockRecord
	inflight map[uint64]*domain.BlockRecord // batch being written, nil between flushes

	flushMu  sync.Mutex // one flush at a time
	kick     chan struct{}
	failures atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a batcher writing to store.
func New(store Writer, cfg Config) *Batcher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &Batcher{
		cfg:    cfg,
		store:  store,
		log:    slog.Default().With("component", "batcher"),
		staged: make(map[uint64]*domain.BlockRecord),
		kick:   make(chan struct{}, 1),
	}
}

// Stage adds rec to the pending set, merging with any write for the same height.
func (b *Batcher) Stage(rec *domain.BlockRecord) {
	if rec == nil {
		return
	}

	b.mu.Lock()
	if cur, ok := b.staged[rec.Height]; ok {
		cur.Merge(rec)
	} else {
		b.staged[rec.Height] = rec.Clone()
	}
	n := len(b.staged)
	b.mu.Unlock()

	metrics.BatcherPending.Set(float64(n))
	if b.cfg.MaxBatchSize > 0 && n >= b.cfg.MaxBatchSize {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Flush upserts everything staged in one batch. On failure the batch is
// put back so the next flush retries it; writes staged meanwhile win.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.staged) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.staged
	b.staged = make(map[uint64]*domain.BlockRecord, len(batch))
	b.inflight = batch
	b.mu.Unlock()

	records := make([]*domain.BlockRecord, 0, len(batch))
	for _, r := range batch {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Height < records[j].Height })

	start := time.Now()
	err := b.store.UpsertBatch(ctx, records)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		b.restore(batch)
		b.failures.Add(1)
		metrics.FlushErrors.Inc()
		return err
	}
	b.mu.Lock()
	b.inflight = nil
	b.mu.Unlock()
	b.failures.Store(0)

	b.log.Debug("Flushed records", "count", len(records), "duration", time.Since(start))
	metrics.BatcherPending.Set(float64(b.Pending()))
	return nil
}

func (b *Batcher) restore(batch map[uint64]*domain.BlockRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight = nil
	for h, old := range batch {
		if newer, ok := b.staged[h]; ok {
			old.Merge(newer)
		}
		b.staged[h] = old
	}
	metrics.BatcherPending.Set(float64(len(b.staged)))
}

// Start runs the flush loop in the background.
func (b *Batcher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.flushLoop(ctx)
}

func (b *Batcher) flushLoop(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-b.kick:
		}
		b.flushWithTimeout(ctx)
	}
}

func (b *Batcher) flushWithTimeout(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, b.cfg.FlushTimeout)
	defer cancel()
	if err := b.Flush(fctx); err != nil {
		b.log.Warn("Flush failed, keeping writes for next cycle", "pending", b.Pending(), "error", err)
	}
}

// Stop ends the flush loop and makes a final best-effort flush.
func (b *Batcher) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	return b.Flush(ctx)
}

// Pending returns the number of staged heights.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}

// Has reports whether height is staged or in a flush that has not
// committed yet.
func (b *Batcher) Has(height uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.staged[height]; ok {
		return true
	}
	_, ok := b.inflight[height]
	return ok
}

// ConsecutiveFailures returns how many flushes in a row have failed.
func (b *Batcher) ConsecutiveFailures() int64 {
	return b.failures.Load()
}
