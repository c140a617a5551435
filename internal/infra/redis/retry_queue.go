package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/gaswatch/internal/indexing/backfill"
)

var _ backfill.RetryQueue = (*RetryQueue)(nil)

// RetryQueue keeps failed backfill heights in a sorted set scored by height.
// Attempt counts live in a companion hash.
type RetryQueue struct {
	rdb         *redis.Client
	queueKey    string
	attemptsKey string
}

func NewRetryQueue(client *Client) *RetryQueue {
	return &RetryQueue{
		rdb:         client.rdb,
		queueKey:    client.key("backfill", "retry"),
		attemptsKey: client.key("backfill", "attempts"),
	}
}

func (q *RetryQueue) Push(ctx context.Context, items []backfill.RetryItem) error {
	if len(items) == 0 {
		return nil
	}

	members := make([]redis.Z, len(items))
	attempts := make(map[string]any, len(items))
	for i, it := range items {
		member := strconv.FormatUint(it.Height, 10)
		members[i] = redis.Z{Score: float64(it.Height), Member: member}
		attempts[member] = it.Attempts
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, q.queueKey, members...)
	pipe.HSet(ctx, q.attemptsKey, attempts)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push retry heights: %w", err)
	}
	return nil
}

// Pop removes up to max of the lowest queued heights.
func (q *RetryQueue) Pop(ctx context.Context, max int) ([]backfill.RetryItem, error) {
	if max <= 0 {
		return nil, nil
	}
	popped, err := q.rdb.ZPopMin(ctx, q.queueKey, int64(max)).Result()
	if err != nil {
		return nil, fmt.Errorf("zpopmin failed: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	fields := make([]string, len(popped))
	for i, z := range popped {
		fields[i] = z.Member.(string)
	}

	pipe := q.rdb.TxPipeline()
	get := pipe.HMGet(ctx, q.attemptsKey, fields...)
	pipe.HDel(ctx, q.attemptsKey, fields...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read retry attempts: %w", err)
	}

	vals := get.Val()
	items := make([]backfill.RetryItem, 0, len(fields))
	for i, f := range fields {
		height, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			continue
		}
		item := backfill.RetryItem{Height: height}
		if i < len(vals) {
			if s, ok := vals[i].(string); ok {
				item.Attempts, _ = strconv.Atoi(s)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return n, nil
}

// Clear drops every queued height.
func (q *RetryQueue) Clear(ctx context.Context) error {
	return q.rdb.Del(ctx, q.queueKey, q.attemptsKey).Err()
}
