package store

import (
	"context"
	"sync"

	"github.com/roach88/docrules/internal/ir"
)

// ChangeType distinguishes document write kinds.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change describes one committed document write.
//
// Doc is the document after the write (nil for deletes). Before is the
// document prior to the write (nil for creates).
type Change struct {
	Type       ChangeType
	Collection string
	ID         string
	Doc        *ir.Document
	Before     *ir.Document
}

// ChangeQueue is a thread-safe unbounded FIFO of committed changes.
//
// Writers never block on a slow consumer. The queue uses a channel for
// signaling so consumers can wait with a context.
type ChangeQueue struct {
	mu      sync.Mutex
	changes []Change
	closed  bool
	signal  chan struct{} // buffered, size 1
}

// NewChangeQueue creates an empty queue.
func NewChangeQueue() *ChangeQueue {
	return &ChangeQueue{
		changes: make([]Change, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a change to the back of the queue.
// Returns false if the queue is closed.
func (q *ChangeQueue) Enqueue(c Change) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.changes = append(q.changes, c)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front change without blocking.
func (q *ChangeQueue) TryDequeue() (Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.changes) == 0 {
		return Change{}, false
	}

	c := q.changes[0]
	// Clear the slot so the documents can be collected.
	q.changes[0] = Change{}
	if len(q.changes) == 1 {
		q.changes = q.changes[:0]
	} else {
		q.changes = q.changes[1:]
	}
	return c, true
}

// Next blocks until a change is available, the queue is closed and drained,
// or ctx is done. The second result is false in the latter two cases.
func (q *ChangeQueue) Next(ctx context.Context) (Change, bool) {
	for {
		if c, ok := q.TryDequeue(); ok {
			return c, true
		}

		q.mu.Lock()
		done := q.closed && len(q.changes) == 0
		q.mu.Unlock()
		if done {
			return Change{}, false
		}

		select {
		case <-ctx.Done():
			return Change{}, false
		case <-q.signal:
		}
	}
}

// Len returns the current queue length.
func (q *ChangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.changes)
}

// Close signals that no more changes will be enqueued and wakes waiters.
func (q *ChangeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
