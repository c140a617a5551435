package backfill

import (
	"context"
	"sort"
	"sync"
)

// RetryItem is a height whose lookup failed, with its failure count.
type RetryItem struct {
	Height   uint64
	Attempts int
}

// RetryQueue holds failed heights between backfill passes.
// Pop returns the lowest heights first.
type RetryQueue interface {
	Push(ctx context.Context, items []RetryItem) error
	Pop(ctx context.Context, max int) ([]RetryItem, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryQueue is a process-local RetryQueue.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[uint64]int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: make(map[uint64]int)}
}

func (q *MemoryQueue) Push(ctx context.Context, items []RetryItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range items {
		q.items[it.Height] = max(q.items[it.Height], it.Attempts)
	}
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, n int) ([]RetryItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heights := make([]uint64, 0, len(q.items))
	for h := range q.items {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	if n > 0 && len(heights) > n {
		heights = heights[:n]
	}

	out := make([]RetryItem, len(heights))
	for i, h := range heights {
		out[i] = RetryItem{Height: h, Attempts: q.items[h]}
		delete(q.items, h)
	}
	return out, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
