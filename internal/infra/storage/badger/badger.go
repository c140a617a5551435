// Package badger implements storage.RecordStore on an embedded BadgerDB.
//
// Layout:
//
//	h/<height:8>                 -> JSON BlockRecord
//	t/<unixnano:8><height:8>     -> empty (observed_at index)
//
// Big-endian encoding keeps both prefixes iterable in order.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/infra/storage"
)

var (
	heightPrefix = []byte("h/")
	timePrefix   = []byte("t/")
)

// deleteChunk bounds the number of keys removed per transaction.
const deleteChunk = 5000

var _ storage.RecordStore = (*Store)(nil)

// Config holds BadgerDB configuration.
type Config struct {
	Path string `yaml:"path"`

	// InMemory mode (for testing)
	InMemory bool `yaml:"in_memory"`

	// MaxMemoryMB limits BadgerDB memory usage (0 = 48 MB profile)
	MaxMemoryMB int64 `yaml:"max_memory_mb"`
}

// Store implements storage.RecordStore using BadgerDB.
type Store struct {
	db *badger.DB
}

// New opens (or creates) a Badger-backed record store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithLogger(nil).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// UpsertBatch merges records into existing rows inside one transaction.
func (s *Store) UpsertBatch(ctx context.Context, records []*domain.BlockRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range records {
			key := heightKey(rec.Height)

			var merged *domain.BlockRecord
			existing, err := getRecord(txn, key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				merged = rec.Clone()
				if merged.ObservedAt.IsZero() {
					merged.ObservedAt = time.Now()
				}
				if err := txn.Set(timeKey(merged.ObservedAt, merged.Height), nil); err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				existing.Merge(rec)
				merged = existing
			}

			val, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("failed to encode height %d: %w", rec.Height, err)
			}
			if err := txn.Set(key, val); err != nil {
				return fmt.Errorf("failed to write height %d: %w", rec.Height, err)
			}
		}
		return nil
	})
}

// Range scans the observed_at index and resolves each height.
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]*domain.BlockRecord, error) {
	var out []*domain.BlockRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = timePrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		end := timeNanos(to)
		var n int
		for it.Seek(timeKey(from, 0)); it.Valid(); it.Next() {
			n++
			if n%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			ts, height := parseTimeKey(it.Item().Key())
			if ts > end {
				break
			}
			rec, err := getRecord(txn, heightKey(height))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out, nil
}

func (s *Store) ExistingHeights(ctx context.Context, heights []uint64) (map[uint64]struct{}, error) {
	out := make(map[uint64]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		for _, h := range heights {
			_, err := txn.Get(heightKey(h))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[h] = struct{}{}
		}
		return nil
	})
	return out, err
}

func (s *Store) LatestHeight(ctx context.Context) (uint64, bool, error) {
	var (
		height uint64
		found  bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = heightPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, heightPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.Valid() {
			height = binary.BigEndian.Uint64(it.Item().Key()[len(heightPrefix):])
			found = true
		}
		return nil
	})
	return height, found, err
}

// DeleteOlderThan removes expired records in chunked transactions.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = timePrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		limit := timeNanos(cutoff)
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, _ := parseTimeKey(key)
			if ts >= limit {
				break
			}
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var deleted int64
	for start := 0; start < len(expired); start += deleteChunk {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		end := min(start+deleteChunk, len(expired))
		chunk := expired[start:end]

		err := s.db.Update(func(txn *badger.Txn) error {
			for _, key := range chunk {
				_, height := parseTimeKey(key)
				if err := txn.Delete(heightKey(height)); err != nil {
					return err
				}
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete expired records: %w", err)
		}
		deleted += int64(len(chunk))
	}
	return deleted, nil
}

// Reclaim runs value log GC until nothing is left to rewrite.
func (s *Store) Reclaim(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = heightPrefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) Health(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

// Close shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

func getRecord(txn *badger.Txn, key []byte) (*domain.BlockRecord, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var rec domain.BlockRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

func heightKey(h uint64) []byte {
	key := make([]byte, len(heightPrefix)+8)
	copy(key, heightPrefix)
	binary.BigEndian.PutUint64(key[len(heightPrefix):], h)
	return key
}

func timeKey(t time.Time, h uint64) []byte {
	key := make([]byte, len(timePrefix)+16)
	copy(key, timePrefix)
	binary.BigEndian.PutUint64(key[len(timePrefix):], timeNanos(t))
	binary.BigEndian.PutUint64(key[len(timePrefix)+8:], h)
	return key
}

func parseTimeKey(key []byte) (nanos, height uint64) {
	body := key[len(timePrefix):]
	return binary.BigEndian.Uint64(body[:8]), binary.BigEndian.Uint64(body[8:16])
}

func timeNanos(t time.Time) uint64 {
	n := t.UnixNano()
	if n < 0 {
		return 0
	}
	return uint64(n)
}
