// Package buffer holds recently observed block records in memory so live
// reads do not wait on persistence.
package buffer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/indexing/metrics"
)

// Entry is a buffered record plus its local ingestion time.
type Entry struct {
	Record     *domain.BlockRecord
	BufferedAt time.Time
}

// Config configures the window.
type Config struct {
	Window        time.Duration
	EvictInterval time.Duration
	MaxEntries    int // 0 disables the count cap
}

// Window is a height-keyed buffer bounded by age.
type Window struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	entries map[uint64]*Entry
}

// NewWindow creates an empty window.
func NewWindow(cfg Config) *Window {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = 30 * time.Second
	}
	return &Window{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[uint64]*Entry),
	}
}

// Put inserts rec or merges it into the existing entry for its height and
// returns a copy of the merged record.
// Fields already set are never cleared by a partial record.
func (w *Window) Put(rec *domain.BlockRecord) *domain.BlockRecord {
	if rec == nil {
		return nil
	}
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entries[rec.Height]; ok {
		e.Record.Merge(rec)
		e.BufferedAt = now
		return e.Record.Clone()
	}
	merged := rec.Clone()
	w.entries[rec.Height] = &Entry{Record: merged, BufferedAt: now}
	if w.cfg.MaxEntries > 0 && len(w.entries) > w.cfg.MaxEntries {
		w.trimLocked(len(w.entries) - w.cfg.MaxEntries)
	}
	metrics.BufferEntries.Set(float64(len(w.entries)))
	return merged.Clone()
}

// Recent returns copies of entries buffered within d of now, ordered by height.
func (w *Window) Recent(d time.Duration) []*domain.BlockRecord {
	cutoff := w.now().Add(-d)

	w.mu.RLock()
	out := make([]*domain.BlockRecord, 0, len(w.entries))
	for _, e := range w.entries {
		if e.BufferedAt.Before(cutoff) {
			continue
		}
		out = append(out, e.Record.Clone())
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// Evict drops entries older than the configured window and returns how many.
func (w *Window) Evict() int {
	cutoff := w.now().Add(-w.cfg.Window)

	w.mu.Lock()
	defer w.mu.Unlock()

	var n int
	for h, e := range w.entries {
		if e.BufferedAt.Before(cutoff) {
			delete(w.entries, h)
			n++
		}
	}
	metrics.BufferEntries.Set(float64(len(w.entries)))
	return n
}

// Run evicts on a fixed interval until ctx is done.
func (w *Window) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.Evict(); n > 0 {
				slog.Debug("Evicted buffered records", "count", n, "remaining", w.Len())
			}
		}
	}
}

// Len returns the number of buffered heights.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// trimLocked drops the n lowest heights.
func (w *Window) trimLocked(n int) {
	heights := make([]uint64, 0, len(w.entries))
	for h := range w.entries {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights[:n] {
		delete(w.entries, h)
	}
}
