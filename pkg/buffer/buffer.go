// Package buffer provides a generic, thread-safe circular buffer.
//
// When the buffer is full a write either evicts the oldest item (DropOldest,
// the default) or is discarded (DropNewest). Drops are always counted and
// can optionally be exported as a Prometheus counter.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/metric"
)

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota
	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback receives every item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// Option configures a Buffer.
type Option[T any] func(*Buffer[T]) error

// WithOverflowPolicy sets the overflow policy.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(b *Buffer[T]) error {
		b.policy = policy
		return nil
	}
}

// WithDropCallback registers a callback for dropped items. It runs outside
// the buffer lock.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(b *Buffer[T]) error {
		b.onDrop = callback
		return nil
	}
}

// WithMetrics exports the drop count as <prefix>_dropped_total.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(b *Buffer[T]) error {
		if registry == nil || prefix == "" {
			return nil
		}
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "delta",
			Name:      prefix + "_dropped_total",
			Help:      "Items dropped by the buffer overflow policy",
		})
		if err := registry.Register("buffer."+prefix, "dropped_total", counter); err != nil {
			return errors.WrapTransient(err, "buffer", "WithMetrics", "metrics registration")
		}
		b.dropCounter = counter
		return nil
	}
}

// Buffer is a fixed-capacity ring of items, oldest first.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	size     int
	capacity int
	policy   OverflowPolicy
	onDrop   DropCallback[T]

	writes      atomic.Int64
	drops       atomic.Int64
	dropCounter prometheus.Counter
}

// New creates a buffer holding at most capacity items.
func New[T any](capacity int, opts ...Option[T]) (*Buffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}
	b := &Buffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Write adds item according to the overflow policy.
func (b *Buffer[T]) Write(item T) {
	b.writes.Add(1)

	b.mu.Lock()
	if b.size == b.capacity {
		var dropped T
		if b.policy == DropNewest {
			dropped = item
		} else {
			dropped = b.items[b.head]
			b.items[b.head] = item
			b.head = (b.head + 1) % b.capacity
		}
		b.mu.Unlock()
		b.dropped(dropped)
		return
	}
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.size++
	b.mu.Unlock()
}

func (b *Buffer[T]) dropped(item T) {
	b.drops.Add(1)
	if b.dropCounter != nil {
		b.dropCounter.Inc()
	}
	if b.onDrop != nil {
		b.onDrop(item)
	}
}

// Snapshot returns a copy of the items, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0, b.size)
	start := (b.head - b.size + b.capacity) % b.capacity
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%b.capacity])
	}
	return out
}

// Retain keeps only the items for which keep returns true, preserving order,
// and returns how many were removed.
func (b *Buffer[T]) Retain(keep func(T) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := (b.head - b.size + b.capacity) % b.capacity
	kept := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		if item := b.items[(start+i)%b.capacity]; keep(item) {
			kept = append(kept, item)
		}
	}
	removed := b.size - len(kept)

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	copy(b.items, kept)
	b.size = len(kept)
	b.head = b.size % b.capacity
	return removed
}

// Size returns the current number of items.
func (b *Buffer[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the maximum number of items.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}

// Clear removes all items.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head, b.size = 0, 0
}

// Writes returns the number of writes since creation.
func (b *Buffer[T]) Writes() int64 {
	return b.writes.Load()
}

// Drops returns the number of items dropped since creation.
func (b *Buffer[T]) Drops() int64 {
	return b.drops.Load()
}
