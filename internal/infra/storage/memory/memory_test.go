package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
)

func TestStore_UpsertNeverDuplicates(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	batches := [][]*domain.BlockRecord{
		{{Height: 7, ObservedAt: now, Predicted50: domain.Float(1)}},
		{{Height: 7, ObservedAt: now.Add(time.Second), ActualPrice: domain.Float(2)}},
		{{Height: 7, BaseFee: domain.Float(3)}},
	}
	for _, b := range batches {
		if err := s.UpsertBatch(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
	rec := s.Get(7)
	if rec.Predicted50 == nil || rec.ActualPrice == nil || rec.BaseFee == nil {
		t.Errorf("expected union of fields, got %+v", rec)
	}
	if !rec.ObservedAt.Equal(now) {
		t.Errorf("observed_at changed to %v", rec.ObservedAt)
	}
}

func TestStore_UpsertDoesNotAlias(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	rec := &domain.BlockRecord{Height: 1, ObservedAt: time.Now(), ActualPrice: domain.Float(1)}
	_ = s.UpsertBatch(ctx, []*domain.BlockRecord{rec})

	*rec.ActualPrice = 99
	if got := *s.Get(1).ActualPrice; got != 1 {
		t.Errorf("store aliased caller's record: %v", got)
	}
}

func TestStore_RangeAndDelete(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()
	_ = s.UpsertBatch(ctx, []*domain.BlockRecord{
		{Height: 2, ObservedAt: now.Add(-time.Minute)},
		{Height: 1, ObservedAt: now.Add(-2 * time.Minute)},
		{Height: 0, ObservedAt: now.Add(-48 * time.Hour)},
	})

	recs, _ := s.Range(ctx, now.Add(-time.Hour), now)
	if len(recs) != 2 || recs[0].Height != 1 || recs[1].Height != 2 {
		t.Fatalf("unexpected range result: %v", recs)
	}

	n, _ := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	h, ok, _ := s.LatestHeight(ctx)
	if !ok || h != 2 {
		t.Errorf("expected latest 2, got %d (%v)", h, ok)
	}
}
