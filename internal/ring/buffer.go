// Package ring provides a fixed-capacity generic ring buffer. It serves two
// roles: a FIFO queue with explicit backpressure (Push/Pop) for the archive
// worker, and a sliding window (Overwrite) that keeps the newest items for
// the request history.
package ring

import (
	"errors"
	"sync"

	"github.com/angel122382/rpcdevtools/internal/assert"
)

var ErrBufferFull = errors.New("ring buffer is full")
var ErrBufferEmpty = errors.New("ring buffer is empty")

// Buffer is a thread-safe, fixed-size ring buffer. Push and Pop never
// allocate; iteration is bounded by the capacity.
type Buffer[T any] struct {
	data     []T
	capacity int
	head     int // oldest item
	count    int
	mu       sync.Mutex
}

// New creates a buffer holding at most capacity items.
func New[T any](capacity int) (*Buffer[T], error) {
	if err := assert.Check(capacity > 0, "capacity must be positive, got %d", capacity); err != nil {
		return nil, err
	}
	return &Buffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}, nil
}

// Push appends item as the newest entry.
// Returns ErrBufferFull at capacity; the caller decides on backpressure.
func (b *Buffer[T]) Push(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == b.capacity {
		return ErrBufferFull
	}
	b.data[b.slot(b.count)] = item
	b.count++
	return nil
}

// Overwrite appends item as the newest entry, dropping the oldest one when
// the buffer is full. The dropped item is returned with evicted=true.
func (b *Buffer[T]) Overwrite(item T) (dropped T, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < b.capacity {
		b.data[b.slot(b.count)] = item
		b.count++
		return dropped, false
	}
	dropped = b.data[b.head]
	b.data[b.head] = item
	b.head = (b.head + 1) % b.capacity
	return dropped, true
}

// Pop removes and returns the oldest item.
func (b *Buffer[T]) Pop() (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		return zero, ErrBufferEmpty
	}
	if err := assert.InRange(b.head, 0, b.capacity-1, "head index"); err != nil {
		return zero, err
	}
	item := b.data[b.head]
	b.data[b.head] = zero
	b.head = (b.head + 1) % b.capacity
	b.count--
	return item, nil
}

// Newest calls fn for each item from newest to oldest until fn returns false.
// fn runs under the buffer lock and must not call back into the buffer.
func (b *Buffer[T]) Newest(fn func(item T) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := b.count - 1; i >= 0; i-- {
		if !fn(b.data[b.slot(i)]) {
			return
		}
	}
}

// Snapshot returns the items newest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0, b.count)
	for i := b.count - 1; i >= 0; i-- {
		out = append(out, b.data[b.slot(i)])
	}
	return out
}

// Reset drops every item.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.head = 0
	b.count = 0
}

func (b *Buffer[T]) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count == b.capacity
}

func (b *Buffer[T]) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count == 0
}

// Len returns the current number of items. Used for queue depth metrics.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// slot maps the i-th item counted from the oldest to its backing index.
func (b *Buffer[T]) slot(i int) int {
	return (b.head + i) % b.capacity
}
