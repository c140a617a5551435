package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/indexing/metrics"
)

// retryBatch bounds how many queued heights one retry pass takes.
const retryBatch = 100

// Config configures gap reconciliation.
type Config struct {
	MaxGap        uint64        // most recent heights reconciled per gap (default: 100)
	Concurrency   int           // parallel lookups (default: 5)
	LookupTimeout time.Duration // per lookup
	PassTimeout   time.Duration // whole pass, including the upsert
	RetryInterval time.Duration // how often the retry queue is drained
	MaxAttempts   int           // lookups per height before it is dropped
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{
		MaxGap:        100,
		Concurrency:   5,
		LookupTimeout: 5 * time.Second,
		PassTimeout:   2 * time.Minute,
		RetryInterval: time.Minute,
		MaxAttempts:   5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxGap == 0 {
		c.MaxGap = def.MaxGap
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = def.LookupTimeout
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = def.PassTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// Processor runs backfill passes.
type Processor struct {
	cfg      Config
	detector *Detector
	store    Store
	fetch    BlockTimeFetcher
	tracker  Tracker
	queue    RetryQueue
	staged   Staged
	log      *slog.Logger

	// detached passes derive from base so shutdown can abandon them
	base         context.Context
	cancelPasses context.CancelFunc
	wg           sync.WaitGroup
}

// Result summarizes one pass.
type Result struct {
	PassID  string
	Skipped int // already stored or staged
	Filled  []uint64
	Failed  []uint64
}

// OnGap handles a jump from prev to curr. The pass runs detached so the
// caller's poll cadence is not held up; it is bounded by PassTimeout and
// ends early when ctx is cancelled or Wait gives up on it.
func (p *Processor) OnGap(ctx context.Context, prev, curr uint64) {
	gap, clamped, ok := p.detector.Detect(prev, curr)
	if !ok {
		return
	}
	if clamped > 0 {
		p.tracker.RecordClamped(clamped)
		p.log.Warn("Gap exceeds backfill cap, older heights not reconciled",
			"prev", prev, "curr", curr, "clamped", clamped, "from", gap.FromBlock)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pctx, cancel := context.WithTimeout(p.base, p.cfg.PassTimeout)
		defer cancel()
		unlink := context.AfterFunc(ctx, cancel)
		defer unlink()

		items := make([]RetryItem, 0, gap.Len())
		for _, h := range gap.Heights() {
			items = append(items, RetryItem{Height: h})
		}
		if _, err := p.reconcile(pctx, items); err != nil {
			p.log.Error("Backfill pass failed", "from", gap.FromBlock, "to", gap.ToBlock, "error", err)
		}
	}()
}

// Reconcile inserts placeholders for heights with no row yet.
func (p *Processor) Reconcile(ctx context.Context, heights []uint64) (Result, error) {
	items := make([]RetryItem, len(heights))
	for i, h := range heights {
		items[i] = RetryItem{Height: h}
	}
	return p.reconcile(ctx, items)
}

func (p *Processor) reconcile(ctx context.Context, items []RetryItem) (Result, error) {
	res := Result{PassID: uuid.NewString()}
	log := p.log.With("pass", res.PassID)

	candidates, err := p.filter(ctx, items)
	if err != nil {
		// could not tell what exists; try again later, and count it so a
		// store that keeps failing still lets heights age out
		retry := make([]RetryItem, len(items))
		for i, it := range items {
			retry[i] = RetryItem{Height: it.Height, Attempts: it.Attempts + 1}
		}
		p.requeue(ctx, retry, log)
		return res, err
	}
	res.Skipped = len(items) - len(candidates)
	metrics.BackfillOutcomes.WithLabelValues("skipped").Add(float64(res.Skipped))
	if len(candidates) == 0 {
		return res, nil
	}

	var (
		mu           sync.Mutex
		placeholders []*domain.BlockRecord
		failed       []RetryItem
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, it := range candidates {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, p.cfg.LookupTimeout)
			defer cancel()

			ts, err := p.fetch(lctx, it.Height)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.tracker.RecordError(metrics.FeedBackfill)
				log.Debug("Lookup failed", "height", it.Height, "error", err)
				failed = append(failed, RetryItem{Height: it.Height, Attempts: it.Attempts + 1})
				return nil
			}
			placeholders = append(placeholders, &domain.BlockRecord{Height: it.Height, ObservedAt: ts})
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(placeholders, func(i, j int) bool { return placeholders[i].Height < placeholders[j].Height })
	if len(placeholders) > 0 {
		if err := p.store.UpsertBatch(ctx, placeholders); err != nil {
			for _, rec := range placeholders {
				failed = append(failed, RetryItem{Height: rec.Height, Attempts: attemptsOf(candidates, rec.Height)})
			}
			p.requeue(ctx, failed, log)
			return res, fmt.Errorf("failed to write placeholders: %w", err)
		}
		for _, rec := range placeholders {
			res.Filled = append(res.Filled, rec.Height)
		}
	}

	for _, f := range failed {
		res.Failed = append(res.Failed, f.Height)
	}
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i] < res.Failed[j] })
	p.requeue(ctx, failed, log)

	metrics.BackfillOutcomes.WithLabelValues("filled").Add(float64(len(res.Filled)))
	metrics.BackfillOutcomes.WithLabelValues("failed").Add(float64(len(res.Failed)))
	log.Info("Backfill pass complete",
		"candidates", len(candidates), "filled", len(res.Filled),
		"failed", len(res.Failed), "skipped", res.Skipped)
	return res, nil
}

// filter drops heights that already have a row or a staged write.
func (p *Processor) filter(ctx context.Context, items []RetryItem) ([]RetryItem, error) {
	var unstaged []RetryItem
	for _, it := range items {
		if p.staged != nil && p.staged.Has(it.Height) {
			continue
		}
		unstaged = append(unstaged, it)
	}
	if len(unstaged) == 0 {
		return nil, nil
	}

	heights := make([]uint64, len(unstaged))
	for i, it := range unstaged {
		heights[i] = it.Height
	}
	existing, err := p.store.ExistingHeights(ctx, heights)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing heights: %w", err)
	}

	out := unstaged[:0]
	for _, it := range unstaged {
		if _, ok := existing[it.Height]; !ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// requeue pushes failed heights back, dropping those out of attempts.
func (p *Processor) requeue(ctx context.Context, items []RetryItem, log *slog.Logger) {
	var keep []RetryItem
	for _, it := range items {
		if it.Attempts >= p.cfg.MaxAttempts {
			metrics.BackfillOutcomes.WithLabelValues("dropped").Inc()
			log.Warn("Giving up on height", "height", it.Height, "attempts", it.Attempts)
			continue
		}
		keep = append(keep, it)
	}
	if len(keep) == 0 {
		return
	}
	// the pass context may be spent; the queue write must still land
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.queue.Push(qctx, keep); err != nil {
		log.Error("Failed to queue heights for retry", "count", len(keep), "error", err)
	}
}

// RetryPending drains one batch from the retry queue.
func (p *Processor) RetryPending(ctx context.Context) (Result, error) {
	items, err := p.queue.Pop(ctx, retryBatch)
	if err != nil {
		return Result{}, fmt.Errorf("failed to pop retry queue: %w", err)
	}
	if len(items) == 0 {
		return Result{}, nil
	}
	return p.reconcile(ctx, items)
}

// Run drains the retry queue on RetryInterval until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, p.cfg.PassTimeout)
			if _, err := p.RetryPending(pctx); err != nil {
				p.log.Warn("Retry pass failed", "error", err)
			}
			cancel()
			if n, err := p.queue.Len(ctx); err == nil {
				metrics.RetryQueueDepth.Set(float64(n))
			}
		}
	}
}

// Wait blocks until detached passes started by OnGap finish. If ctx ends
// first, in-flight passes are cancelled (their heights go to the retry
// queue) and Wait returns ctx's error once they have unwound. Passes
// started after that are cancelled immediately.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	p.cancelPasses()
	<-done
	return ctx.Err()
}

func attemptsOf(items []RetryItem, height uint64) int {
	for _, it := range items {
		if it.Height == height {
			return it.Attempts + 1
		}
	}
	return 1
}
