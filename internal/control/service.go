package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/gaswatch/internal/api"
	"github.com/vietddude/gaswatch/internal/core/config"
	"github.com/vietddude/gaswatch/internal/core/worker"
	"github.com/vietddude/gaswatch/internal/indexing/backfill"
	"github.com/vietddude/gaswatch/internal/indexing/batcher"
	"github.com/vietddude/gaswatch/internal/indexing/buffer"
	"github.com/vietddude/gaswatch/internal/indexing/health"
	"github.com/vietddude/gaswatch/internal/indexing/indexer"
	"github.com/vietddude/gaswatch/internal/indexing/metrics"
	"github.com/vietddude/gaswatch/internal/indexing/query"
	"github.com/vietddude/gaswatch/internal/infra/feed"
	redisclient "github.com/vietddude/gaswatch/internal/infra/redis"
	"github.com/vietddude/gaswatch/internal/infra/rpc/provider"
	"github.com/vietddude/gaswatch/internal/infra/rpc/routing"
	"github.com/vietddude/gaswatch/internal/infra/storage"
	"github.com/vietddude/gaswatch/internal/infra/storage/postgres"
)

// Service is the composition root: it owns every component and their lifecycle.
type Service struct {
	cfg *config.AppConfig
	log *slog.Logger

	store      storage.RecordStore
	db         *postgres.DB
	redis      *redisclient.Client
	retryQueue backfill.RetryQueue

	Tracker  *metrics.Tracker
	Window   *buffer.Window
	Batcher  *batcher.Batcher
	Backfill *backfill.Processor
	Pipeline *indexer.Pipeline
	Sweeper  *worker.Sweeper
	Queries  *query.Service
	Hub      *api.Hub
	Server   *api.Server

	providers []provider.Provider

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option overrides a dependency, mostly for tests.
type Option func(*options)

type options struct {
	store      storage.RecordStore
	predictive indexer.PredictiveSource
	chain      indexer.ChainSource
	blockTime  backfill.BlockTimeFetcher
}

// WithStore uses s instead of opening the configured driver.
func WithStore(s storage.RecordStore) Option {
	return func(o *options) { o.store = s }
}

// WithSources replaces the HTTP feeds.
func WithSources(p indexer.PredictiveSource, c indexer.ChainSource, bt backfill.BlockTimeFetcher) Option {
	return func(o *options) {
		o.predictive = p
		o.chain = c
		o.blockTime = bt
	}
}

// NewService builds every component. A store that cannot be opened is fatal.
func NewService(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{cfg: cfg, log: slog.Default().With("component", "service")}

	// 1. Storage
	if o.store != nil {
		s.store = o.store
	} else {
		store, db, err := OpenStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		s.store, s.db = store, db
	}

	// 2. Feeds
	retry := routing.RetryConfig{
		MaxAttempts:     cfg.Feeds.Retry.MaxAttempts,
		InitialDelay:    cfg.Feeds.Retry.InitialDelay,
		MaxDelay:        cfg.Feeds.Retry.MaxDelay,
		BackoffMultiple: cfg.Feeds.Retry.Multiplier,
	}
	predictive, chain, blockTime := o.predictive, o.chain, o.blockTime
	if predictive == nil && cfg.Feeds.Predictive.URL != "" {
		pf := feed.NewPredictiveFeed(cfg.Feeds.Predictive.URL, cfg.Feeds.Predictive.APIKey, cfg.Feeds.Predictive.Timeout, retry)
		s.providers = append(s.providers, pf.Provider())
		predictive = pf
	}
	if chain == nil && cfg.Feeds.Chain.URL != "" {
		cf := feed.NewChainFeed(cfg.Feeds.Chain.URL, cfg.Feeds.Chain.Timeout, retry)
		s.providers = append(s.providers, cf.Provider())
		chain = cf
		if blockTime == nil {
			blockTime = cf.BlockTime
		}
	}
	if predictive == nil {
		s.log.Warn("Predictive feed not configured")
	}
	if chain == nil {
		s.log.Warn("Chain feed not configured, no actual prices will be recorded")
	}

	// 3. In-process state
	s.Tracker = metrics.NewTracker()
	s.Window = buffer.NewWindow(buffer.Config{
		Window:        cfg.Buffer.Window,
		EvictInterval: cfg.Buffer.EvictInterval,
		MaxEntries:    cfg.Buffer.MaxEntries,
	})
	s.Batcher = batcher.New(s.store, batcher.Config{
		FlushInterval: cfg.Batcher.FlushInterval,
		MaxBatchSize:  cfg.Batcher.MaxBatchSize,
		FlushTimeout:  cfg.Batcher.FlushTimeout,
	})

	// 4. Backfill, with the retry queue in Redis when configured
	if cfg.Redis.Enabled() {
		client, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			s.log.Warn("Failed to connect to Redis, using in-memory retry queue", "error", err)
		} else {
			s.redis = client
			s.retryQueue = redisclient.NewRetryQueue(client)
		}
	}
	if s.retryQueue == nil {
		s.retryQueue = backfill.NewMemoryQueue()
	}
	var gaps indexer.GapHandler
	if blockTime != nil {
		s.Backfill = backfill.NewProcessor(backfill.Config{
			MaxGap:        cfg.Backfill.MaxGap,
			Concurrency:   cfg.Backfill.Concurrency,
			LookupTimeout: cfg.Backfill.LookupTimeout,
			PassTimeout:   cfg.Backfill.PassTimeout,
			RetryInterval: cfg.Backfill.RetryInterval,
			MaxAttempts:   cfg.Backfill.MaxAttempts,
		}, s.store, blockTime, s.Tracker, s.retryQueue, s.Batcher)
		gaps = s.Backfill
	}

	// 5. Pipeline
	s.Hub = api.NewHub()
	s.Pipeline = indexer.NewPipeline(indexer.Config{
		PredictiveInterval: cfg.Feeds.Predictive.Interval,
		ChainInterval:      cfg.Feeds.Chain.Interval,
	}, indexer.Deps{
		Predictive: predictive,
		Chain:      chain,
		Window:     s.Window,
		Batcher:    s.Batcher,
		Tracker:    s.Tracker,
		Gaps:       gaps,
		Heights:    s.store,
		Publisher:  s.Hub,
	})

	// 6. Retention and read side
	s.Sweeper = worker.NewSweeper(worker.SweeperConfig{
		Retention:      cfg.Retention.Period(),
		Interval:       cfg.Retention.Interval,
		ReclaimMinRows: cfg.Retention.ReclaimMinRows,
	}, s.store)
	s.Queries = query.NewService(query.Config{
		MaxPoints: cfg.Query.MaxPoints,
		Timeout:   cfg.Query.Timeout,
	}, s.store, s.Window, s.Tracker)

	monitor := health.NewMonitor(s.Tracker, s.Batcher, s.retryQueue, s.store, s.providers).
		WithThresholds(health.Thresholds{
			StaleAfter:    cfg.Health.StaleAfter,
			CriticalAfter: cfg.Health.CriticalAfter,
			FlushFailures: cfg.Health.FlushFailures,
			RetryBacklog:  cfg.Health.RetryBacklog,
		})
	if s.redis != nil {
		monitor.WithRedis(s.redis)
	}
	s.Server = api.NewServer(cfg.Server.Port, api.NewHandler(s.Queries, s.Tracker), health.NewHandler(monitor), s.Hub)

	return s, nil
}

// Start launches every background task and returns immediately.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.run(func() {
		if err := s.Server.Start(); err != nil {
			s.log.Error("HTTP server failed", "error", err)
		}
	})
	s.run(func() { s.Hub.Run(ctx) })
	s.run(func() { s.Window.Run(ctx) })
	s.Batcher.Start(ctx)
	if s.Backfill != nil {
		s.run(func() { _ = s.Backfill.Run(ctx) })
	}
	s.run(func() { s.Sweeper.Start(ctx) })
	s.run(func() {
		if err := s.Pipeline.Start(ctx); err != nil {
			s.log.Error("Pipeline failed", "error", err)
		}
	})
	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}
	s.run(func() { s.runMetricsUpdater(ctx) })

	s.log.Info("Service started", "port", s.cfg.Server.Port, "storage", s.cfg.Storage.Driver)
	return nil
}

func (s *Service) run(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Stop lets in-flight polls finish, stops the timers, makes a final flush
// and closes the store. Waiting on polls and backfill passes is bounded by
// ctx; the final flush gets its own deadline so an expired ctx does not
// throw away staged writes.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	var errs []error
	// polls and detached backfill passes first, so their writes are staged
	if err := s.Pipeline.Stop(ctx); err != nil {
		s.log.Warn("Ingestion did not drain before shutdown deadline", "error", err)
	}

	if err := s.Server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	if s.cancel != nil {
		s.cancel()
	}

	flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(ctx), s.finalFlushTimeout())
	defer cancelFlush()
	if err := s.Batcher.Stop(flushCtx); err != nil {
		s.log.Error("Final flush failed, staged writes lost", "pending", s.Batcher.Pending(), "error", err)
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	s.wg.Wait()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) finalFlushTimeout() time.Duration {
	if s.cfg.Batcher.FlushTimeout > 0 {
		return s.cfg.Batcher.FlushTimeout
	}
	return 10 * time.Second
}

// Store returns the record store.
func (s *Service) Store() storage.RecordStore {
	return s.store
}

func (s *Service) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range s.providers {
				metrics.ProviderStatus.WithLabelValues(p.GetName()).Set(float64(p.Status()))
			}
			if n, err := s.retryQueue.Len(ctx); err == nil {
				metrics.RetryQueueDepth.Set(float64(n))
			}
		}
	}
}
