package batcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
)

// mockWriter records batches and can be told to fail.
type mockWriter struct {
	mu      sync.Mutex
	batches [][]*domain.BlockRecord
	fail    error
}

func (m *mockWriter) UpsertBatch(ctx context.Context, records []*domain.BlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	cp := make([]*domain.BlockRecord, len(records))
	for i, r := range records {
		cp[i] = r.Clone()
	}
	m.batches = append(m.batches, cp)
	return nil
}

func (m *mockWriter) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *mockWriter) getBatches() [][]*domain.BlockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*domain.BlockRecord(nil), m.batches...)
}

func TestBatcher_CoalescesByHeight(t *testing.T) {
	w := &mockWriter{}
	b := New(w, Config{FlushInterval: time.Hour})

	b.Stage(&domain.BlockRecord{Height: 2, Predicted50: domain.Float(1)})
	b.Stage(&domain.BlockRecord{Height: 1, ActualPrice: domain.Float(5)})
	b.Stage(&domain.BlockRecord{Height: 2, Predicted50: domain.Float(2), ActualPrice: domain.Float(3)})

	if b.Pending() != 2 {
		t.Fatalf("expected 2 pending heights, got %d", b.Pending())
	}
	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	batches := w.getBatches()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %v", batches)
	}
	rec := batches[0][1]
	if rec.Height != 2 || *rec.Predicted50 != 2 || *rec.ActualPrice != 3 {
		t.Errorf("last writer did not win: %+v", rec)
	}
	if b.Pending() != 0 {
		t.Errorf("staged set not cleared after success")
	}
}

func TestBatcher_RetainsOnFailure(t *testing.T) {
	w := &mockWriter{}
	w.setFail(errors.New("db down"))
	b := New(w, Config{FlushInterval: time.Hour})
	ctx := context.Background()

	b.Stage(&domain.BlockRecord{Height: 10, Predicted99: domain.Float(1)})
	if err := b.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	if !b.Has(10) {
		t.Fatal("failed write was dropped")
	}

	// newer field arrives while the store is down
	b.Stage(&domain.BlockRecord{Height: 10, ActualPrice: domain.Float(2)})
	w.setFail(nil)
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	batches := w.getBatches()
	if len(batches) != 1 {
		t.Fatalf("expected 1 successful batch, got %d", len(batches))
	}
	rec := batches[0][0]
	if rec.Predicted99 == nil || rec.ActualPrice == nil {
		t.Errorf("expected both fields after retry, got %+v", rec)
	}
}

func TestBatcher_RestoreKeepsNewerValues(t *testing.T) {
	b := New(&mockWriter{}, Config{})
	old := map[uint64]*domain.BlockRecord{
		4: {Height: 4, ActualPrice: domain.Float(1)},
	}
	b.Stage(&domain.BlockRecord{Height: 4, ActualPrice: domain.Float(9)})
	b.restore(old)

	b.mu.Lock()
	got := *b.staged[4].ActualPrice
	b.mu.Unlock()
	if got != 9 {
		t.Errorf("expected newer value 9, got %v", got)
	}
}

func TestBatcher_StopFlushesRemaining(t *testing.T) {
	w := &mockWriter{}
	b := New(w, Config{FlushInterval: time.Hour})
	b.Start(context.Background())

	b.Stage(&domain.BlockRecord{Height: 1})
	if err := b.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(w.getBatches()) != 1 {
		t.Error("final flush did not run")
	}
}

func TestBatcher_EarlyFlushAtMaxBatchSize(t *testing.T) {
	w := &mockWriter{}
	b := New(w, Config{FlushInterval: time.Hour, MaxBatchSize: 3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	for h := uint64(1); h <= 3; h++ {
		b.Stage(&domain.BlockRecord{Height: h})
	}

	deadline := time.Now().Add(time.Second)
	for len(w.getBatches()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("batch size threshold did not trigger a flush")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// gatedWriter blocks each upsert until released.
type gatedWriter struct {
	entered chan struct{}
	release chan error
}

func (g *gatedWriter) UpsertBatch(ctx context.Context, records []*domain.BlockRecord) error {
	g.entered <- struct{}{}
	return <-g.release
}

func TestBatcher_HasCoversInflightFlush(t *testing.T) {
	w := &gatedWriter{entered: make(chan struct{}), release: make(chan error)}
	b := New(w, Config{FlushInterval: time.Hour})
	b.Stage(&domain.BlockRecord{Height: 42, ActualPrice: domain.Float(7)})

	errCh := make(chan error, 1)
	go func() { errCh <- b.Flush(context.Background()) }()
	<-w.entered

	if !b.Has(42) {
		t.Fatal("height being flushed reported as absent")
	}
	if b.Has(43) {
		t.Error("unstaged height reported present")
	}

	w.release <- nil
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if b.Has(42) {
		t.Error("committed height still reported as pending")
	}
}

func TestBatcher_FailedInflightFlushStaysVisible(t *testing.T) {
	w := &gatedWriter{entered: make(chan struct{}), release: make(chan error)}
	b := New(w, Config{FlushInterval: time.Hour})
	b.Stage(&domain.BlockRecord{Height: 42, ActualPrice: domain.Float(7)})

	errCh := make(chan error, 1)
	go func() { errCh <- b.Flush(context.Background()) }()
	<-w.entered
	w.release <- errors.New("deadlock detected")

	if err := <-errCh; err == nil {
		t.Fatal("expected flush error")
	}
	if !b.Has(42) || b.Pending() != 1 {
		t.Errorf("failed batch should be staged again, pending=%d", b.Pending())
	}
}
