package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/infra/storage"
)

var _ storage.RecordStore = (*Store)(nil)

// Store is a process-local RecordStore, used for tests and ephemeral runs.
type Store struct {
	mu      sync.RWMutex
	records map[uint64]*domain.BlockRecord

	reclaims int
}

func NewStore() *Store {
	return &Store{records: make(map[uint64]*domain.BlockRecord)}
}

func (s *Store) UpsertBatch(ctx context.Context, records []*domain.BlockRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if existing, ok := s.records[r.Height]; ok {
			existing.Merge(r)
			continue
		}
		s.records[r.Height] = r.Clone()
	}
	return nil
}

func (s *Store) Range(ctx context.Context, from, to time.Time) ([]*domain.BlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.BlockRecord
	for _, r := range s.records {
		if r.ObservedAt.Before(from) || r.ObservedAt.After(to) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out, nil
}

func (s *Store) ExistingHeights(ctx context.Context, heights []uint64) (map[uint64]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]struct{})
	for _, h := range heights {
		if _, ok := s.records[h]; ok {
			out[h] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) LatestHeight(ctx context.Context) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest uint64
	found := false
	for h := range s.records {
		if !found || h > latest {
			latest = h
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, r := range s.records {
		if r.ObservedAt.Before(cutoff) {
			delete(s.records, h)
			n++
		}
	}
	return n, nil
}

func (s *Store) Reclaim(ctx context.Context) error {
	s.mu.Lock()
	s.reclaims++
	s.mu.Unlock()
	return nil
}

// Reclaims returns how many reclaim passes ran.
func (s *Store) Reclaims() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reclaims
}

// Get returns a copy of the record at height, or nil.
func (s *Store) Get(height uint64) *domain.BlockRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[height].Clone()
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *Store) Health(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
