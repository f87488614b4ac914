// Package outbox provides the deferred event buffers used by the
// simulated markets. Events produced while a time step is being
// resolved are parked here and drained by the driver once every
// market of the step has settled.
package outbox

import "errors"

var ErrQueueFull = errors.New("outbox queue full")

// Queue is a bounded FIFO buffer. It is not safe for concurrent use;
// callers serialize access behind the owning market's lock.
type Queue[T any] struct {
	items []T
	limit int
}

// New allocates a queue. A non-positive limit means unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Push appends an event to the buffer.
func (q *Queue[T]) Push(v T) error {
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, v)
	return nil
}

// Len returns the number of buffered events.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Drain delivers every buffered event in FIFO order and empties the
// buffer. Events pushed by a handler during the drain are delivered
// in the same pass.
func (q *Queue[T]) Drain(handler func(T)) int {
	var n int
	for len(q.items) > 0 {
		v := q.items[0]
		q.items = q.items[1:]
		n++
		handler(v)
	}
	return n
}
