// Package dedupe defines the interface for event idempotency tracking.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen event IDs to ensure at-most-once counting.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	// This is the ONLY method for deduplication - thread-safe and atomic.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// This should only be used when an event was marked as seen but failed
	// to be accepted (e.g., buffer closed).
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper implements Deduper with a map plus an insertion-ordered
// ring of ids. When the cache is full the oldest id is evicted first, the
// same policy the ingestion buffer uses.
// For unbounded mode (maxSize <= 0) only the map is kept.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string // insertion-ordered ring of ids, bounded mode only
	head    int      // index of the oldest id in order
	count   int      // live entries in order
	maxSize int      // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000, // default max size
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]struct{})
	if d.maxSize > 0 {
		d.order = make([]string, d.maxSize)
	}

	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
// Returns true if id was already seen, false if it was newly recorded.
func (d *inMemoryDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 {
		if d.count == d.maxSize {
			d.evictOldest()
		}
		d.order[(d.head+d.count)%d.maxSize] = id
		d.count++
	}

	d.seen[id] = struct{}{}
	d.size.Add(1)
	return false
}

// Unrecord removes an ID from the seen list, allowing it to be retried.
// The ring slot, if any, is left behind as a tombstone; eviction skips ids
// that are no longer in the map.
func (d *inMemoryDeduper) Unrecord(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; !exists {
		return
	}
	delete(d.seen, id)
	d.size.Add(-1)
}

// evictOldest drops the oldest live id. Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	for d.count > 0 {
		id := d.order[d.head]
		d.order[d.head] = ""
		d.head = (d.head + 1) % d.maxSize
		d.count--

		if _, live := d.seen[id]; live {
			delete(d.seen, id)
			d.size.Add(-1)
			return
		}
		// Tombstone from Unrecord; keep scanning.
	}
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
