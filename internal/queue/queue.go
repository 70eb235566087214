// Package queue buffers usage records between request handlers and the
// worker that persists them. The memory backend is a bounded channel for
// single-instance deployments; the Redis backend is a list that outlives
// restarts and can be fed by several gateway replicas at once.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by a queue or dead-letter store after Close.
	ErrClosed = errors.New("queue closed")

	// ErrNotParked is returned when no dead letter has the given id.
	ErrNotParked = errors.New("dead letter not found")

	// ErrRetriesExhausted wraps the last error of an item that kept failing.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Queue is a FIFO of T shared by producers and a batching consumer.
type Queue[T any] interface {
	Push(ctx context.Context, item T) error

	// PopBatch waits up to wait for a first item (indefinitely when wait is
	// not positive), then takes whatever else is ready without blocking, up
	// to size items. Nothing arriving in time yields an empty slice.
	PopBatch(ctx context.Context, size int, wait time.Duration) ([]T, error)

	Len(ctx context.Context) (int, error)
	Close() error
}

// DeadLetters holds items whose processing failed for good, until an
// operator retries them.
type DeadLetters[T any] interface {
	Park(ctx context.Context, item T, cause error) error

	// Parked lists parked items oldest first; limit <= 0 means all.
	Parked(ctx context.Context, limit int) ([]Parked[T], error)

	// Take removes a parked item and returns it. Concurrent callers racing
	// for the same id see exactly one success.
	Take(ctx context.Context, id string) (Parked[T], error)

	Close() error
}

// Parked is an item sitting in a dead-letter store.
type Parked[T any] struct {
	ID       string    `json:"id"`
	Item     T         `json:"item"`
	Reason   string    `json:"error"`
	ParkedAt time.Time `json:"parked_at"`
}
