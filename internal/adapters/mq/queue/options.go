// Package queue implements the bounded in-memory ingestion buffer.
package queue

// Option applies a configuration option to the RingBuffer.
type Option func(*RingBuffer)

// WithCapacity sets the maximum capacity of the buffer.
func WithCapacity(capacity int) Option {
	return func(b *RingBuffer) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// WithOverflowFunc registers a hook invoked when a saturated buffer evicts
// events. The hook runs outside the buffer lock and must not block.
func WithOverflowFunc(fn OverflowFunc) Option {
	return func(b *RingBuffer) {
		b.overflow = fn
	}
}
