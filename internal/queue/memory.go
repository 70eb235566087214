package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a Queue backed by a buffered channel. Push blocks, subject to
// ctx, while the buffer is full.
type Memory[T any] struct {
	ch     chan T
	closed chan struct{}
	once   sync.Once
}

// NewMemory returns a queue holding at most capacity pending items.
func NewMemory[T any](capacity int) *Memory[T] {
	return &Memory[T]{
		ch:     make(chan T, max(capacity, 0)),
		closed: make(chan struct{}),
	}
}

func (m *Memory[T]) Push(ctx context.Context, item T) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}

	select {
	case m.ch <- item:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PopBatch keeps handing out buffered items after Close so a stopping
// consumer can drain; ErrClosed follows once the buffer is empty.
func (m *Memory[T]) PopBatch(ctx context.Context, size int, wait time.Duration) ([]T, error) {
	var expired <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case first := <-m.ch:
		return m.takeReady([]T{first}, size), nil
	case <-expired:
		return []T{}, nil
	case <-m.closed:
		if rest := m.takeReady(nil, size); len(rest) > 0 {
			return rest, nil
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory[T]) takeReady(batch []T, size int) []T {
	for len(batch) < size {
		select {
		case item := <-m.ch:
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

func (m *Memory[T]) Len(context.Context) (int, error) {
	return len(m.ch), nil
}

// Close stops Push. Calling it again is a no-op.
func (m *Memory[T]) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// MemoryDeadLetters is a DeadLetters kept in process memory.
type MemoryDeadLetters[T any] struct {
	mu     sync.Mutex
	items  []Parked[T]
	closed bool
}

func NewMemoryDeadLetters[T any]() *MemoryDeadLetters[T] {
	return &MemoryDeadLetters[T]{}
}

func (d *MemoryDeadLetters[T]) Park(_ context.Context, item T, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.items = append(d.items, park(item, cause))
	return nil
}

func (d *MemoryDeadLetters[T]) Parked(_ context.Context, limit int) ([]Parked[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	n := len(d.items)
	if limit > 0 && limit < n {
		n = limit
	}
	return slices.Clone(d.items[:n]), nil
}

func (d *MemoryDeadLetters[T]) Take(_ context.Context, id string) (Parked[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Parked[T]{}, ErrClosed
	}
	i := slices.IndexFunc(d.items, func(p Parked[T]) bool { return p.ID == id })
	if i < 0 {
		return Parked[T]{}, ErrNotParked
	}
	p := d.items[i]
	d.items = slices.Delete(d.items, i, i+1)
	return p, nil
}

// Close discards everything still parked.
func (d *MemoryDeadLetters[T]) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.items = nil
	return nil
}

func park[T any](item T, cause error) Parked[T] {
	p := Parked[T]{ID: uuid.NewString(), Item: item, ParkedAt: time.Now().UTC()}
	if cause != nil {
		p.Reason = cause.Error()
	}
	return p
}
