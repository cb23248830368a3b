// Package dedupe tracks analysis request ids so a resubmitted request maps
// back to the run it started instead of starting another one.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records request ids with the run id they were assigned.
type Deduper interface {
	// Claim atomically checks whether id was seen. If it was, it returns the
	// recorded run id and true. Otherwise it records runID and returns false.
	Claim(ctx context.Context, id, runID string) (string, bool)

	// Unrecord forgets id so it can be submitted again. It is meant for
	// requests that were claimed but could not be queued.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// node is one entry in the list, newest at head.
type node struct {
	id    string
	runID string
	next  *node
}

func (n *node) reset() {
	n.id = ""
	n.runID = ""
	n.next = nil
}

// inMemoryDeduper keeps ids in a map plus a singly linked list ordered by
// insertion. Bounded mode (maxSize > 0) evicts the oldest id when full;
// unbounded mode keeps everything.
type inMemoryDeduper struct {
	mu       sync.RWMutex
	seen     map[string]*node
	head     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10_000,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() any {
			return &node{}
		},
	}

	return d
}

func (d *inMemoryDeduper) Claim(_ context.Context, id, runID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[id]; exists {
		return n.runID, true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.id = id
	n.runID = runID
	n.next = d.head
	d.head = n
	d.seen[id] = n
	d.size.Add(1)
	return runID, false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.seen[id]
	if !exists {
		return
	}
	delete(d.seen, id)
	if d.head == n {
		d.head = n.next
	} else {
		cur := d.head
		for cur != nil && cur.next != n {
			cur = cur.next
		}
		if cur != nil {
			cur.next = n.next
		}
	}
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// evictOldest removes the tail of the list. Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	if d.head == nil {
		return
	}
	var prev *node
	cur := d.head
	for cur.next != nil {
		prev = cur
		cur = cur.next
	}
	if prev == nil {
		d.head = nil
	} else {
		prev.next = nil
	}
	delete(d.seen, cur.id)
	cur.reset()
	d.nodePool.Put(cur)
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
