package storage

import (
	"context"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
)

// RecordStore is the durable home for block records.
type RecordStore interface {
	// UpsertBatch writes records in a single unit of work.
	// Null fields never overwrite stored values and the stored
	// observed_at is kept when a row already exists.
	UpsertBatch(ctx context.Context, records []*domain.BlockRecord) error

	// Range returns records with from <= observed_at <= to, ordered by height.
	Range(ctx context.Context, from, to time.Time) ([]*domain.BlockRecord, error)

	// ExistingHeights reports which of the given heights already have a row.
	ExistingHeights(ctx context.Context, heights []uint64) (map[uint64]struct{}, error)

	// LatestHeight returns the highest stored height; ok is false when empty.
	LatestHeight(ctx context.Context) (height uint64, ok bool, err error)

	// DeleteOlderThan removes records observed before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Reclaim gives space freed by deletions back to the backend.
	Reclaim(ctx context.Context) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Health checks the backend is reachable.
	Health(ctx context.Context) error

	Close() error
}
