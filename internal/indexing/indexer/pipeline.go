package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/indexing/batcher"
	"github.com/vietddude/gaswatch/internal/indexing/buffer"
	"github.com/vietddude/gaswatch/internal/indexing/metrics"
	"github.com/vietddude/gaswatch/internal/infra/feed"
)

// Pipeline runs the two poll loops and fans each record out to the
// window, the batcher and the live stream.
type Pipeline struct {
	cfg        Config
	predictive PredictiveSource
	chain      ChainSource
	window     *buffer.Window
	batcher    *batcher.Batcher
	tracker    *metrics.Tracker
	gaps       GapHandler
	heights    HeightSource
	publisher  Publisher
	now        func() time.Time

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	life    sync.Mutex
	started bool
	stopped bool

	mu     sync.RWMutex
	status Status
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Predictive PredictiveSource
	Chain      ChainSource
	Window     *buffer.Window
	Batcher    *batcher.Batcher
	Tracker    *metrics.Tracker
	Gaps       GapHandler   // optional
	Heights    HeightSource // optional, seeds the tracker on start
	Publisher  Publisher    // optional
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(cfg Config, deps Deps) *Pipeline {
	if cfg.PredictiveInterval <= 0 {
		cfg.PredictiveInterval = 5 * time.Second
	}
	if cfg.ChainInterval <= 0 {
		cfg.ChainInterval = 500 * time.Millisecond
	}
	return &Pipeline{
		cfg:        cfg,
		predictive: deps.Predictive,
		chain:      deps.Chain,
		window:     deps.Window,
		batcher:    deps.Batcher,
		tracker:    deps.Tracker,
		gaps:       deps.Gaps,
		heights:    deps.Heights,
		publisher:  deps.Publisher,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start seeds the tracker from the store and runs both poll loops until
// ctx is cancelled or Stop is called. A pipeline runs at most once; Start
// after Stop returns immediately without polling.
func (p *Pipeline) Start(ctx context.Context) error {
	p.life.Lock()
	if p.stopped {
		p.life.Unlock()
		return nil
	}
	if p.started {
		p.life.Unlock()
		return fmt.Errorf("pipeline already started")
	}
	p.started = true
	p.running.Store(true)
	p.life.Unlock()

	defer close(p.done)
	defer p.running.Store(false)

	p.seed(ctx)

	var wg sync.WaitGroup
	if p.predictive != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, p.cfg.PredictiveInterval, p.pollPredicted)
		}()
	}
	if p.chain != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, p.cfg.ChainInterval, p.pollChain)
		}()
	}
	wg.Wait()
	return nil
}

// Stop prevents new polls, waits for in-flight ones and then for any
// detached backfill pass. Both waits are bounded by ctx; passes still
// running when it ends are cancelled.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.life.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stop)
	}
	started := p.started
	p.life.Unlock()

	if started {
		select {
		case <-p.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for poll loops: %w", ctx.Err())
		}
	}
	if p.gaps != nil {
		if err := p.gaps.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for backfill passes: %w", err)
		}
	}
	return nil
}

// GetStatus returns the current status
func (p *Pipeline) GetStatus() Status {
	p.mu.RLock()
	st := p.status
	p.mu.RUnlock()

	st.Running = p.running.Load()
	if p.window != nil {
		st.BufferedBlocks = p.window.Len()
	}
	if p.batcher != nil {
		st.PendingWrites = p.batcher.Pending()
	}
	return st
}

func (p *Pipeline) seed(ctx context.Context) {
	if p.heights == nil {
		return
	}
	h, ok, err := p.heights.LatestHeight(ctx)
	if err != nil {
		slog.Warn("Could not read latest stored height, gaps across restart will not be backfilled", "error", err)
		return
	}
	if ok {
		p.tracker.Seed(h)
		slog.Info("Seeded last processed height from store", "height", h)
	}
}

func (p *Pipeline) loop(ctx context.Context, interval time.Duration, poll func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			poll(ctx)
		}
	}
}

func (p *Pipeline) pollPredicted(ctx context.Context) {
	rec, err := p.predictive.Fetch(ctx)
	switch {
	case errors.Is(err, feed.ErrIncompleteResponse):
		p.tracker.RecordNull(metrics.FeedPredictive)
		slog.Debug("Predictive feed returned no usable prices", "error", err)
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		p.tracker.RecordError(metrics.FeedPredictive)
		slog.Warn("Predictive feed poll failed", "error", err)
		return
	}
	p.ObservePredicted(rec)
}

func (p *Pipeline) pollChain(ctx context.Context) {
	obs, err := p.chain.Latest(ctx)
	switch {
	case errors.Is(err, feed.ErrIncompleteResponse):
		p.tracker.RecordNull(metrics.FeedChain)
		slog.Debug("Chain feed returned an incomplete block", "error", err)
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		p.tracker.RecordError(metrics.FeedChain)
		slog.Warn("Chain feed poll failed", "error", err)
		return
	}
	p.ObserveActual(ctx, obs)
}

// ObservePredicted ingests a predicted record.
func (p *Pipeline) ObservePredicted(rec *domain.BlockRecord) {
	if rec == nil {
		return
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = p.now()
	}
	metrics.RecordsObserved.WithLabelValues(metrics.FeedPredictive).Inc()
	p.ingest(rec)

	p.mu.Lock()
	p.status.LastPredicted = rec.Height
	p.status.LastPredictAt = p.now()
	p.mu.Unlock()

	slog.Debug("Observed prediction", "height", rec.Height)
}

// ObserveActual ingests an authoritative observation. A jump past the
// previous height starts a backfill pass for the skipped heights.
func (p *Pipeline) ObserveActual(ctx context.Context, obs *feed.Observation) {
	if obs == nil {
		return
	}
	if obs.PriceErr != nil {
		p.tracker.RecordError(metrics.FeedChain)
		slog.Warn("Gas price unavailable", "height", obs.Height, "error", obs.PriceErr)
	}

	missed := p.tracker.Record(obs.Height, obs.ActualPrice)
	if missed > 0 && p.gaps != nil {
		prev := obs.Height - missed - 1
		slog.Info("Detected missed blocks", "prev", prev, "curr", obs.Height, "missed", missed)
		p.gaps.OnGap(ctx, prev, obs.Height)
	}

	observedAt := obs.BlockTime
	if observedAt.IsZero() {
		observedAt = p.now()
	}
	p.ingest(&domain.BlockRecord{
		Height:      obs.Height,
		ObservedAt:  observedAt,
		BaseFee:     obs.BaseFee,
		ActualPrice: obs.ActualPrice,
	})

	p.mu.Lock()
	p.status.LastActual = max(p.status.LastActual, obs.Height)
	p.status.LastActualAt = p.now()
	p.mu.Unlock()
}

func (p *Pipeline) ingest(rec *domain.BlockRecord) {
	merged := rec
	if p.window != nil {
		merged = p.window.Put(rec)
	}
	if p.batcher != nil {
		p.batcher.Stage(rec)
	}
	if p.publisher != nil {
		p.publisher.Publish(merged)
	}
}
