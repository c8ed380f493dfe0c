// Package dedupe tracks which prediction revisions have already been queued
// for delivery so the same revision is not mirrored twice.
package dedupe

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxSize = 50000

// Deduper records seen revision keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so a failed delivery can be queued again.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// Key identifies one revision of a prediction.
func Key(email string, updatedAt time.Time) string {
	return email + "@" + strconv.FormatInt(updatedAt.UnixNano(), 10)
}

// node is an entry of the insertion-ordered list used for eviction.
type node struct {
	key        string
	prev, next *node
}

func (n *node) reset() {
	n.key = ""
	n.prev = nil
	n.next = nil
}

// inMemoryDeduper keeps keys in a map. In bounded mode (maxSize > 0) the keys
// are also linked in insertion order and the oldest one is evicted when the
// map is full. Unbounded mode keeps every key.
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	oldest   *node
	newest   *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		seen:    make(map[string]*node),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.nodePool = sync.Pool{
		New: func() any { return &node{} },
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}

	if d.maxSize <= 0 {
		d.seen[key] = nil
		d.size.Add(1)
		return false
	}

	if len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	n := d.nodePool.Get().(*node) //nolint:forcetypeassert // pool only holds *node
	n.key = key
	n.prev = d.newest
	if d.newest != nil {
		d.newest.next = n
	}
	d.newest = n
	if d.oldest == nil {
		d.oldest = n
	}
	d.seen[key] = n
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.seen[key]
	if !exists {
		return
	}
	delete(d.seen, key)
	d.size.Add(-1)
	if n != nil {
		d.unlink(n)
	}
}

// evictOldest drops the first recorded key. Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	if d.oldest == nil {
		return
	}
	n := d.oldest
	delete(d.seen, n.key)
	d.size.Add(-1)
	d.unlink(n)
}

// unlink removes n from the list and returns it to the pool.
func (d *inMemoryDeduper) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.oldest = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.newest = n.prev
	}
	n.reset()
	d.nodePool.Put(n)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
