package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
)

// setupRepo connects to GASWATCH_TEST_POSTGRES_URL and starts from an empty table.
func setupRepo(t *testing.T) *RecordRepo {
	t.Helper()
	url := os.Getenv("GASWATCH_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("GASWATCH_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE block_records`); err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}

	repo := NewRecordRepo(db)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRecordRepo_UpsertMergesFields(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	t0 := time.Now().Add(-time.Minute).Truncate(time.Microsecond)

	err := repo.UpsertBatch(ctx, []*domain.BlockRecord{
		{Height: 500, ObservedAt: t0, Predicted99: domain.Float(120.5)},
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	err = repo.UpsertBatch(ctx, []*domain.BlockRecord{
		{Height: 500, ObservedAt: t0.Add(time.Second), ActualPrice: domain.Float(118.0)},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}

	recs, err := repo.Range(ctx, t0.Add(-time.Second), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	got := recs[0]
	if got.Predicted99 == nil || *got.Predicted99 != 120.5 {
		t.Errorf("predicted_99 lost: %v", got.Predicted99)
	}
	if got.ActualPrice == nil || *got.ActualPrice != 118.0 {
		t.Errorf("actual_price missing: %v", got.ActualPrice)
	}
	if !got.ObservedAt.Equal(t0) {
		t.Errorf("observed_at changed: got %v want %v", got.ObservedAt, t0)
	}
}

func TestRecordRepo_ExistingAndLatest(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if _, ok, err := repo.LatestHeight(ctx); err != nil || ok {
		t.Fatalf("expected empty table, ok=%v err=%v", ok, err)
	}

	now := time.Now()
	err := repo.UpsertBatch(ctx, []*domain.BlockRecord{
		{Height: 11, ObservedAt: now},
		{Height: 12, ObservedAt: now},
	})
	if err != nil {
		t.Fatal(err)
	}

	existing, err := repo.ExistingHeights(ctx, []uint64{10, 11, 12, 13})
	if err != nil {
		t.Fatal(err)
	}
	if len(existing) != 2 {
		t.Fatalf("expected 2 existing heights, got %v", existing)
	}

	h, ok, err := repo.LatestHeight(ctx)
	if err != nil || !ok || h != 12 {
		t.Fatalf("expected latest 12, got %d ok=%v err=%v", h, ok, err)
	}
}

func TestRecordRepo_DeleteOlderThan(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	err := repo.UpsertBatch(ctx, []*domain.BlockRecord{
		{Height: 1, ObservedAt: now.Add(-40 * 24 * time.Hour)},
		{Height: 2, ObservedAt: now},
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := repo.DeleteOlderThan(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	if err := repo.Reclaim(ctx); err != nil {
		t.Errorf("reclaim: %v", err)
	}

	n, err = repo.DeleteOlderThan(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second sweep should be a no-op, deleted %d", n)
	}
}
