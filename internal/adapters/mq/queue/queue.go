// Package queue implements the bounded in-memory ingestion buffer.
//
// Producers append without blocking; a saturated buffer evicts its oldest
// events and signals the overflow instead of failing the caller. A single
// aggregator drains batches.
package queue

import (
	"context"
	"sync"

	"github.com/upliftlab/uplift/internal/domain/model"
	"github.com/upliftlab/uplift/pkg/metrics"
)

// Default buffer configuration constants.
const (
	defaultCapacity = 100000
)

// Event represents the payload type flowing through the buffer.
// Using the model.Event type for type safety.
type Event = model.Event

// Buffer provides non-blocking append and batch drain semantics.
type Buffer interface {
	// Append adds an event to the buffer. It never blocks: when the buffer
	// is full the oldest event is evicted to make room. Returns false only
	// when the buffer is closed.
	Append(ctx context.Context, e Event) bool

	// Drain removes and returns up to maxBatch events, oldest first.
	// It is intended for a single consumer; batches are not replayed.
	Drain(ctx context.Context, maxBatch int) []Event

	// Len returns the current number of buffered events.
	Len(ctx context.Context) int

	// Dropped returns the total number of events evicted since creation.
	Dropped() int64

	// Close shuts down the buffer. After closing, Append rejects events;
	// Drain keeps returning whatever remains.
	Close() error

	// IsClosed returns true if the buffer has been closed.
	IsClosed() bool
}

// OverflowFunc is invoked (outside the buffer lock) after events are evicted
// from a saturated buffer. dropped is the eviction count of that append.
type OverflowFunc func(dropped int)

// RingBuffer implements Buffer with a fixed-size circular slice.
type RingBuffer struct {
	mu       sync.Mutex
	events   []Event
	head     int // index of the oldest event
	size     int
	capacity int
	dropped  int64
	closed   bool
	overflow OverflowFunc
}

// NewRingBuffer creates a new ring buffer with configuration options.
func NewRingBuffer(opts ...Option) *RingBuffer {
	b := &RingBuffer{
		capacity: defaultCapacity,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.events = make([]Event, b.capacity)

	metrics.UpdateBufferCapacity(b.capacity)
	metrics.UpdateBufferSize(0)
	metrics.UpdateBufferUtilization(0.0)

	return b
}

// Append adds an event, evicting the oldest entry when full.
func (b *RingBuffer) Append(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: events are passed by value
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	evicted := 0
	if b.size == b.capacity {
		// Overwrite the oldest slot.
		b.head = (b.head + 1) % b.capacity
		b.size--
		b.dropped++
		evicted = 1
	}

	b.events[(b.head+b.size)%b.capacity] = e
	b.size++

	size := b.size
	hook := b.overflow
	b.mu.Unlock()

	metrics.UpdateBufferSize(size)
	metrics.UpdateBufferUtilization(float64(size) / float64(b.capacity))

	if evicted > 0 {
		metrics.RecordEventsDropped(evicted)
		if hook != nil {
			hook(evicted)
		}
	}
	return true
}

// Drain removes and returns up to maxBatch events, oldest first.
func (b *RingBuffer) Drain(ctx context.Context, maxBatch int) []Event {
	if maxBatch < 1 {
		return nil
	}

	b.mu.Lock()
	n := b.size
	if n > maxBatch {
		n = maxBatch
	}
	if n == 0 {
		b.mu.Unlock()
		return nil
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (b.head + i) % b.capacity
		out[i] = b.events[idx]
		b.events[idx] = Event{} // release references
	}
	b.head = (b.head + n) % b.capacity
	b.size -= n
	size := b.size
	b.mu.Unlock()

	metrics.UpdateBufferSize(size)
	metrics.UpdateBufferUtilization(float64(size) / float64(b.capacity))
	metrics.RecordDrainBatch(n)

	return out
}

// Len returns the current number of buffered events.
func (b *RingBuffer) Len(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the total number of evicted events.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close shuts down the buffer.
func (b *RingBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}

// IsClosed returns true if the buffer has been closed.
func (b *RingBuffer) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
