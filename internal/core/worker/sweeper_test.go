package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/infra/storage/memory"
)

func seed(t *testing.T, s *memory.Store, now time.Time) {
	t.Helper()
	err := s.UpsertBatch(context.Background(), []*domain.BlockRecord{
		{Height: 1, ObservedAt: now.Add(-40 * 24 * time.Hour)},
		{Height: 2, ObservedAt: now.Add(-31 * 24 * time.Hour)},
		{Height: 3, ObservedAt: now.Add(-29 * 24 * time.Hour)},
		{Height: 4, ObservedAt: now},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSweeper_DeletesExpiredAndReclaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seed(t, store, now)

	s := NewSweeper(SweeperConfig{Retention: 30 * 24 * time.Hour, ReclaimMinRows: 1}, store)
	s.now = func() time.Time { return now }

	deleted, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}
	if store.Get(1) != nil || store.Get(2) != nil || store.Get(3) == nil {
		t.Error("wrong rows removed")
	}
	if store.Reclaims() != 1 {
		t.Errorf("expected one reclaim pass, got %d", store.Reclaims())
	}
}

func TestSweeper_Idempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seed(t, store, now)

	s := NewSweeper(SweeperConfig{Retention: 30 * 24 * time.Hour}, store)
	s.now = func() time.Time { return now }

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	deleted, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("second sweep deleted %d rows", deleted)
	}
	if store.Reclaims() != 1 {
		t.Errorf("reclaim ran on a no-op sweep: %d", store.Reclaims())
	}
}

func TestSweeper_SkipsReclaimBelowThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seed(t, store, now)

	s := NewSweeper(SweeperConfig{Retention: 30 * 24 * time.Hour, ReclaimMinRows: 10}, store)
	s.now = func() time.Time { return now }

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.Reclaims() != 0 {
		t.Errorf("expected no reclaim, got %d", store.Reclaims())
	}
}

type failingPruner struct{}

func (failingPruner) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}
func (failingPruner) Reclaim(context.Context) error { return nil }

func TestSweeper_PropagatesStoreError(t *testing.T) {
	s := NewSweeper(SweeperConfig{Retention: time.Hour}, failingPruner{})
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSweeper_DisabledRetention(t *testing.T) {
	s := NewSweeper(SweeperConfig{}, failingPruner{})
	deleted, err := s.Sweep(context.Background())
	if err != nil || deleted != 0 {
		t.Errorf("disabled sweeper should be a no-op, got %d, %v", deleted, err)
	}
}
