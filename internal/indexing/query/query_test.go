package query

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/indexing/buffer"
	"github.com/vietddude/gaswatch/internal/indexing/metrics"
	"github.com/vietddude/gaswatch/internal/infra/storage/memory"
)

func TestParseTimeframe(t *testing.T) {
	for _, tf := range Timeframes {
		got, err := ParseTimeframe(string(tf))
		if err != nil || got != tf {
			t.Errorf("ParseTimeframe(%q) = %q, %v", tf, got, err)
		}
	}
	for _, bad := range []string{"", "2w", "1H", "30m", "7days"} {
		if _, err := ParseTimeframe(bad); !errors.Is(err, ErrInvalidTimeframe) {
			t.Errorf("ParseTimeframe(%q): expected ErrInvalidTimeframe, got %v", bad, err)
		}
	}
}

func TestParseConfidence(t *testing.T) {
	if c, err := ParseConfidence(""); err != nil || c != domain.Confidence99 {
		t.Errorf("default confidence: got %d, %v", c, err)
	}
	if c, err := ParseConfidence("70"); err != nil || c != domain.Confidence70 {
		t.Errorf("got %d, %v", c, err)
	}
	for _, bad := range []string{"80", "abc", "-1"} {
		if _, err := ParseConfidence(bad); !errors.Is(err, ErrInvalidConfidence) {
			t.Errorf("ParseConfidence(%q): expected ErrInvalidConfidence, got %v", bad, err)
		}
	}
}

func rows(n int) []*domain.BlockRecord {
	out := make([]*domain.BlockRecord, n)
	for i := range out {
		out[i] = &domain.BlockRecord{Height: uint64(i)}
	}
	return out
}

func TestSample_Bounded(t *testing.T) {
	const maxPoints = 500
	for _, tf := range Timeframes {
		for _, n := range []int{0, 1, 499, 500, 501, 7200, 50400} {
			got := Sample(rows(n), tf.Stride(), maxPoints)
			if len(got) > maxPoints {
				t.Errorf("%s n=%d: %d points exceeds %d", tf, n, len(got), maxPoints)
			}
			if n > 0 && (len(got) == 0 || got[0].Height != 0) {
				t.Errorf("%s n=%d: sample must start at the first row", tf, n)
			}
		}
	}
}

func TestSample_Deterministic(t *testing.T) {
	in := rows(1000)
	a := Sample(in, 6, 100)
	b := Sample(in, 6, 100)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("repeated samples differ")
	}
	if len(a) != 100 || a[1].Height != 10 {
		t.Errorf("expected stride 10 over 1000 rows, got len=%d second=%d", len(a), a[1].Height)
	}
}

type failingReader struct{}

func (failingReader) Range(context.Context, time.Time, time.Time) ([]*domain.BlockRecord, error) {
	return nil, errors.New("connection refused")
}

func TestService_EndToEndRecentMerge(t *testing.T) {
	store := memory.NewStore()
	window := buffer.NewWindow(buffer.Config{Window: time.Hour})
	tracker := metrics.NewTracker()
	svc := NewService(Config{}, store, window, tracker)

	t0 := time.Now()
	window.Put(&domain.BlockRecord{Height: 500, ObservedAt: t0, Predicted99: domain.Float(120.5)})
	window.Put(&domain.BlockRecord{Height: 500, ObservedAt: t0.Add(50 * time.Millisecond), ActualPrice: domain.Float(118.0)})
	tracker.Record(500, domain.Float(118.0))

	resp, err := svc.QueryRange(context.Background(), "1h", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Predicted) != 1 || len(resp.Actual) != 1 {
		t.Fatalf("expected one entry per series, got %d/%d", len(resp.Predicted), len(resp.Actual))
	}
	p, a := resp.Predicted[0], resp.Actual[0]
	if p.Height != 500 || *p.Value != 120.5 {
		t.Errorf("unexpected predicted point %+v", p)
	}
	if a.Height != 500 || *a.Value != 118.0 {
		t.Errorf("unexpected actual point %+v", a)
	}
	if resp.Metrics.LastProcessedHeight != 500 {
		t.Errorf("metrics snapshot missing: %+v", resp.Metrics)
	}
}

func TestService_MergesStoreAndWindowByHeight(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	window := buffer.NewWindow(buffer.Config{Window: time.Hour})
	svc := NewService(Config{}, store, window, nil)

	now := time.Now()
	_ = store.UpsertBatch(ctx, []*domain.BlockRecord{
		{Height: 1, ObservedAt: now.Add(-30 * time.Minute), Predicted99: domain.Float(10)},
		{Height: 2, ObservedAt: now.Add(-20 * time.Minute), Predicted99: domain.Float(11)},
		{Height: 0, ObservedAt: now.Add(-2 * time.Hour), Predicted99: domain.Float(9)},
	})
	window.Put(&domain.BlockRecord{Height: 2, ObservedAt: now, ActualPrice: domain.Float(12)})
	window.Put(&domain.BlockRecord{Height: 3, ObservedAt: now, ActualPrice: domain.Float(13)})

	resp := svc.Query(ctx, Timeframe1h, domain.Confidence99)

	var heights []uint64
	for _, pt := range resp.Actual {
		heights = append(heights, pt.Height)
	}
	if !reflect.DeepEqual(heights, []uint64{1, 2, 3}) {
		t.Fatalf("expected heights [1 2 3], got %v", heights)
	}
	if resp.Predicted[1].Value == nil || *resp.Predicted[1].Value != 11 || *resp.Actual[1].Value != 12 {
		t.Errorf("height 2 not merged: %+v / %+v", resp.Predicted[1], resp.Actual[1])
	}
	if resp.Actual[0].Value != nil {
		t.Errorf("height 1 has no actual price, got %v", *resp.Actual[0].Value)
	}
}

func TestService_LongRangeSkipsWindow(t *testing.T) {
	store := memory.NewStore()
	window := buffer.NewWindow(buffer.Config{Window: time.Hour})
	svc := NewService(Config{}, store, window, nil)

	window.Put(&domain.BlockRecord{Height: 9, ObservedAt: time.Now()})

	resp := svc.Query(context.Background(), Timeframe24h, domain.Confidence99)
	if len(resp.Actual) != 0 {
		t.Errorf("24h range should read the store only, got %d points", len(resp.Actual))
	}
}

func TestService_StoreFailureIsPartial(t *testing.T) {
	window := buffer.NewWindow(buffer.Config{Window: time.Hour})
	svc := NewService(Config{}, failingReader{}, window, nil)
	window.Put(&domain.BlockRecord{Height: 7, ObservedAt: time.Now(), ActualPrice: domain.Float(1)})

	resp := svc.Query(context.Background(), Timeframe1h, domain.Confidence99)
	if !resp.Partial {
		t.Error("expected partial response")
	}
	if len(resp.Actual) != 1 {
		t.Errorf("window data should still be served, got %d points", len(resp.Actual))
	}
}

func TestService_RepeatedQueriesAreIdentical(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	base := time.Now().Add(-10 * time.Hour)
	var recs []*domain.BlockRecord
	for i := 0; i < 3000; i++ {
		recs = append(recs, &domain.BlockRecord{
			Height:      uint64(i),
			ObservedAt:  base.Add(time.Duration(i) * 12 * time.Second),
			Predicted99: domain.Float(float64(i)),
		})
	}
	_ = store.UpsertBatch(ctx, recs)

	svc := NewService(Config{MaxPoints: 200}, store, nil, nil)
	fixed := time.Now()
	svc.now = func() time.Time { return fixed }

	a, _ := json.Marshal(svc.Query(ctx, Timeframe12h, domain.Confidence99))
	b, _ := json.Marshal(svc.Query(ctx, Timeframe12h, domain.Confidence99))
	if string(a) != string(b) {
		t.Fatal("identical queries returned different bodies")
	}

	resp := svc.Query(ctx, Timeframe12h, domain.Confidence99)
	if len(resp.Predicted) > 200 {
		t.Errorf("expected at most 200 points, got %d", len(resp.Predicted))
	}
}
