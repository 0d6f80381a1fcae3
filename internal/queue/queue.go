// Package queue provides an unbounded multi-producer/single-consumer
// FIFO used for per-session outbound writes and per-install progress
// relays.  Producers never block; the consumer blocks in Pop until an
// item arrives, the queue is closed, or its context is cancelled.
package queue

import (
	"context"
	"sync"
)

// Unbounded is an ordered queue with no capacity limit.
// The zero value is not usable; call New.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{} // 1-buffered wake-up for the consumer
}

// New returns an empty open queue.
func New[T any]() *Unbounded[T] {
	return &Unbounded[T]{notify: make(chan struct{}, 1)}
}

// Push appends v.  It reports false when the queue has been closed,
// in which case v is discarded.
func (q *Unbounded[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// Pop removes and returns the oldest item.  After Close, remaining items
// are still delivered in order; once empty, Pop returns false.
// Cancelling ctx makes Pop return false immediately.
func (q *Unbounded[T]) Pop(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil // release the backing array
			}
			q.mu.Unlock()
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Close stops accepting new items.  Safe to call more than once.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Len returns the number of queued items.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Unbounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Unbounded[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
