package metrics

import (
	"sync"
	"time"
)

// Feed names used as metric labels.
const (
	FeedPredictive = "predictive"
	FeedChain      = "chain"
	FeedBackfill   = "backfill"
)

// Snapshot is an immutable copy of the tracker counters.
type Snapshot struct {
	MissedBlocks        uint64    `json:"missed_blocks"`
	ClampedBlocks       uint64    `json:"clamped_blocks"`
	NullValues          uint64    `json:"null_values"`
	APIErrors           uint64    `json:"api_errors"`
	LastProcessedHeight uint64    `json:"last_processed_height"`
	LastSyncTime        time.Time `json:"last_sync_time"`
}

// Tracker holds data-quality counters for the ingestion path.
// Counters only grow; a restart resets them.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	seen bool
	now  func() time.Time
}

// NewTracker creates a tracker starting from zero.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Seed sets the starting height without counting a gap.
func (t *Tracker) Seed(height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen || height > t.snap.LastProcessedHeight {
		t.snap.LastProcessedHeight = height
		t.seen = true
	}
	LastProcessedHeight.Set(float64(t.snap.LastProcessedHeight))
}

// Record accounts an authoritative observation at height.
// It returns how many heights were skipped since the previous one.
func (t *Tracker) Record(height uint64, value *float64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var missed uint64
	if t.seen && height > t.snap.LastProcessedHeight+1 {
		missed = height - t.snap.LastProcessedHeight - 1
		t.snap.MissedBlocks += missed
		MissedBlocks.Add(float64(missed))
	}
	if value == nil {
		t.snap.NullValues++
		NullValues.WithLabelValues(FeedChain).Inc()
	}
	// a lagging upstream may report an older height; keep the highest
	if !t.seen || height > t.snap.LastProcessedHeight {
		t.snap.LastProcessedHeight = height
	}
	t.seen = true
	t.snap.LastSyncTime = t.now()

	RecordsObserved.WithLabelValues(FeedChain).Inc()
	LastProcessedHeight.Set(float64(t.snap.LastProcessedHeight))
	return missed
}

// RecordNull counts an incomplete response from feed.
func (t *Tracker) RecordNull(feed string) {
	t.mu.Lock()
	t.snap.NullValues++
	t.mu.Unlock()
	NullValues.WithLabelValues(feed).Inc()
}

// RecordError counts an upstream failure from feed.
func (t *Tracker) RecordError(feed string) {
	t.mu.Lock()
	t.snap.APIErrors++
	t.mu.Unlock()
	APIErrors.WithLabelValues(feed).Inc()
}

// RecordClamped counts missed heights left unreconciled by the gap cap.
func (t *Tracker) RecordClamped(n uint64) {
	if n == 0 {
		return
	}
	t.mu.Lock()
	t.snap.ClampedBlocks += n
	t.mu.Unlock()
	ClampedBlocks.Add(float64(n))
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
