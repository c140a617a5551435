package indexer

import (
	"context"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/infra/feed"
)

// PredictiveSource yields the predicted record for the next block.
type PredictiveSource interface {
	Fetch(ctx context.Context) (*domain.BlockRecord, error)
}

// ChainSource yields the latest authoritative block.
type ChainSource interface {
	Latest(ctx context.Context) (*feed.Observation, error)
}

// GapHandler reconciles heights skipped between two chain observations.
type GapHandler interface {
	OnGap(ctx context.Context, prev, curr uint64)
	Wait(ctx context.Context) error
}

// HeightSource reports the highest persisted height.
type HeightSource interface {
	LatestHeight(ctx context.Context) (uint64, bool, error)
}

// Publisher receives every merged record as it is ingested.
type Publisher interface {
	Publish(rec *domain.BlockRecord)
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Running        bool      `json:"running"`
	LastPredicted  uint64    `json:"last_predicted_height"`
	LastActual     uint64    `json:"last_actual_height"`
	LastPredictAt  time.Time `json:"last_predicted_at"`
	LastActualAt   time.Time `json:"last_actual_at"`
	BufferedBlocks int       `json:"buffered_blocks"`
	PendingWrites  int       `json:"pending_writes"`
}

// Config holds pipeline configuration
type Config struct {
	PredictiveInterval time.Duration
	ChainInterval      time.Duration
}
