// Package queue provides an unbounded FIFO queue for many producers and a
// single consumer.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned from Pop once the queue is closed.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO queue. Push never blocks; Pop blocks until an
// item is available, the queue is closed or the context is done.
//
// Items are appended to a write slice and consumed from a read slice. When
// the read slice is depleted the two are swapped around, so producers and
// the consumer mostly contend on different locks.
type Queue[T any] struct {
	writeMu sync.Mutex
	write   []T
	closed  bool

	readMu sync.Mutex
	read   []T

	// signal has a buffer of one; a pending value means the write slice may
	// have items for the consumer.
	signal chan struct{}
	done   chan struct{}
}

// New returns a ready to use empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v to the queue. It returns false if the queue is closed, in
// which case v is discarded.
func (q *Queue[T]) Push(v T) bool {
	q.writeMu.Lock()
	if q.closed {
		q.writeMu.Unlock()
		return false
	}
	q.write = append(q.write, v)
	q.writeMu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// Pop removes and returns the oldest item. Items pushed before Close are
// not delivered after it: a closed queue returns ErrClosed right away.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	for {
		select {
		case <-q.done:
			return zero, ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		if v, ok := q.tryPop(); ok {
			return v, nil
		}

		select {
		case <-q.signal:
		case <-q.done:
			return zero, ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *Queue[T]) tryPop() (T, bool) {
	var zero T

	q.readMu.Lock()
	defer q.readMu.Unlock()

	if len(q.read) == 0 {
		q.writeMu.Lock()
		q.read, q.write = q.write, q.read[:0]
		q.writeMu.Unlock()
	}
	if len(q.read) == 0 {
		return zero, false
	}
	v := q.read[0]
	q.read[0] = zero
	q.read = q.read[1:]

	return v, true
}

// Len returns the number of items waiting in the queue.
func (q *Queue[T]) Len() int {
	q.readMu.Lock()
	defer q.readMu.Unlock()
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	return len(q.read) + len(q.write)
}

// Close closes the queue. Pending items are abandoned and any blocked Pop
// returns ErrClosed. Close is idempotent.
func (q *Queue[T]) Close() {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.write = nil
	close(q.done)
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	return q.closed
}
