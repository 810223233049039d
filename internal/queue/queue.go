// Package queue is the in-process FIFO of session ids waiting for a worker.
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed    = errors.New("queue: closed")
	ErrDuplicate = errors.New("queue: id already waiting")
)

// Queue is unbounded. Enqueue never blocks; Dequeue blocks until an id is available.
// An id is rejected while it is still waiting. Once dequeued it may be enqueued again.
type Queue struct {
	mu      sync.Mutex
	items   []string
	waiting map[string]struct{}
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

func New() *Queue {
	return &Queue{
		waiting: make(map[string]struct{}),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (q *Queue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, ok := q.waiting[id]; ok {
		return ErrDuplicate
	}
	q.waiting[id] = struct{}{}
	q.items = append(q.items, id)
	q.signal()
	return nil
}

// Dequeue pops the oldest id. It returns ctx.Err() on cancellation and ErrClosed once
// the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			delete(q.waiting, id)
			if len(q.items) > 0 {
				// wake the next waiting consumer
				q.signal()
			}
			q.mu.Unlock()
			return id, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return "", ErrClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.done:
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further Enqueue calls and releases blocked consumers once the queue is empty.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// signal must be called with mu held.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
