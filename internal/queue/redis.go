package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

func pendingKey(name string) string { return "gateway:" + name + ":pending" }
func deadKey(name string) string    { return "gateway:" + name + ":dead" }
func orderKey(name string) string   { return "gateway:" + name + ":dead:order" }

// Redis is a Queue stored as a Redis list of JSON documents. The client
// belongs to the caller and is not closed by Close.
type Redis[T any] struct {
	client redis.UniversalClient
	key    string
	closed atomic.Bool
}

func NewRedis[T any](client redis.UniversalClient, name string) (*Redis[T], error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	return &Redis[T]{client: client, key: pendingKey(name)}, nil
}

func (r *Redis[T]) Push(ctx context.Context, item T) error {
	if r.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode queue item: %w", err)
	}
	if err := r.client.RPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis[T]) PopBatch(ctx context.Context, size int, wait time.Duration) ([]T, error) {
	// BLPOP treats a zero timeout as "block forever".
	first, err := r.client.BLPop(ctx, positive(wait), r.key).Result()
	if errors.Is(err, redis.Nil) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", r.key, err)
	}

	raw := []string{first[1]}
	if size > 1 {
		// Whatever is already there; redis.Nil just means nothing more.
		rest, err := r.client.LPopCount(ctx, r.key, size-1).Result()
		if err == nil {
			raw = append(raw, rest...)
		}
	}

	batch := make([]T, 0, len(raw))
	for _, doc := range raw {
		var item T
		if err := json.Unmarshal([]byte(doc), &item); err != nil {
			return batch, fmt.Errorf("failed to decode queue item: %w", err)
		}
		batch = append(batch, item)
	}
	return batch, nil
}

func (r *Redis[T]) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of %s: %w", r.key, err)
	}
	return int(n), nil
}

// Close stops Push on this handle. Items already in Redis stay there for
// the next process.
func (r *Redis[T]) Close() error {
	r.closed.Store(true)
	return nil
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// RedisDeadLetters keeps parked items in a hash keyed by id, with a sorted
// set scoring each id by its park time to list them in order.
type RedisDeadLetters[T any] struct {
	client redis.UniversalClient
	items  string
	order  string
}

func NewRedisDeadLetters[T any](client redis.UniversalClient, name string) (*RedisDeadLetters[T], error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	return &RedisDeadLetters[T]{client: client, items: deadKey(name), order: orderKey(name)}, nil
}

func (d *RedisDeadLetters[T]) Park(ctx context.Context, item T, cause error) error {
	p := park(item, cause)
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}

	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.items, p.ID, data)
		pipe.ZAdd(ctx, d.order, redis.Z{Score: float64(p.ParkedAt.UnixNano()), Member: p.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to park item: %w", err)
	}
	return nil
}

func (d *RedisDeadLetters[T]) Parked(ctx context.Context, limit int) ([]Parked[T], error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := d.client.ZRange(ctx, d.order, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	if len(ids) == 0 {
		return []Parked[T]{}, nil
	}

	docs, err := d.client.HMGet(ctx, d.items, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letters: %w", err)
	}
	parked := make([]Parked[T], 0, len(docs))
	for _, doc := range docs {
		s, ok := doc.(string)
		if !ok {
			continue
		}
		var p Parked[T]
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			continue
		}
		parked = append(parked, p)
	}
	return parked, nil
}

func (d *RedisDeadLetters[T]) Take(ctx context.Context, id string) (Parked[T], error) {
	var p Parked[T]
	doc, err := d.client.HGet(ctx, d.items, id).Result()
	if errors.Is(err, redis.Nil) {
		return p, ErrNotParked
	}
	if err != nil {
		return p, fmt.Errorf("failed to read dead letter: %w", err)
	}

	// HDEL decides the race between two takers.
	removed, err := d.client.HDel(ctx, d.items, id).Result()
	if err != nil {
		return p, fmt.Errorf("failed to remove dead letter: %w", err)
	}
	if removed == 0 {
		return p, ErrNotParked
	}
	d.client.ZRem(ctx, d.order, id)

	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return p, fmt.Errorf("failed to decode dead letter: %w", err)
	}
	return p, nil
}

// Close is a no-op; the client belongs to the caller.
func (d *RedisDeadLetters[T]) Close() error {
	return nil
}
