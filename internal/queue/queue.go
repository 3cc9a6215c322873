// Package queue implements the per-destination holding queue for pending
// datapoints. It is a plain double-ended collection: normal traffic is
// appended at the tail, high-priority traffic is prepended at the head, and
// the drain loop removes bounded batches from the head.
//
// The queue itself is unbounded. The capacity limit is enforced by the
// owning factory, because the high-priority path must be able to bypass it.
package queue

import (
	"sync"

	"github.com/relaykit/metrics-spooler/internal/datapoint"
)

// Queue is an ordered double-ended queue of datapoints, safe for concurrent
// use by one producer side and one drain side.
type Queue struct {
	mu    sync.Mutex
	items []datapoint.Datapoint
	head  int
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// PushBack appends a datapoint at the tail (normal priority).
func (q *Queue) PushBack(p datapoint.Datapoint) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

// PushFront prepends a datapoint at the head. High-priority traffic uses
// this so it is drained ahead of everything already queued.
func (q *Queue) PushFront(p datapoint.Datapoint) {
	q.mu.Lock()
	if q.head > 0 {
		q.head--
		q.items[q.head] = p
		q.mu.Unlock()
		return
	}
	items := make([]datapoint.Datapoint, 0, len(q.items)+8)
	items = append(items, p)
	items = append(items, q.items...)
	q.items = items
	q.mu.Unlock()
}

// Len returns the number of queued datapoints.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// TakeUpTo removes and returns up to n datapoints from the head. It returns
// fewer when the queue is shorter and an empty slice when the queue is
// empty; it never blocks.
func (q *Queue) TakeUpTo(n int) []datapoint.Datapoint {
	q.mu.Lock()
	defer q.mu.Unlock()

	avail := len(q.items) - q.head
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return nil
	}

	out := make([]datapoint.Datapoint, n)
	copy(out, q.items[q.head:q.head+n])
	q.head += n

	// Release consumed backing storage once more than half the slice is dead.
	if q.head > len(q.items)/2 {
		remaining := len(q.items) - q.head
		compact := make([]datapoint.Datapoint, remaining)
		copy(compact, q.items[q.head:])
		q.items = compact
		q.head = 0
	}
	return out
}
