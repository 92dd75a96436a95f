package transport

import (
	"context"
	"errors"
	"sync"

	"maid/message"
)

// ErrSessionClosed is returned when enqueueing on a session that is closing.
var ErrSessionClosed = errors.New("transport: session closed")

// Queue is the outbound FIFO of a session. Any goroutine may Push; only the
// send loop Pops. Close is the clean-shutdown signal: Pop keeps returning the
// envelopes already queued, then reports the end.
type Queue struct {
	mu     sync.Mutex
	items  []*message.Controller
	closed bool
	signal chan struct{} // capacity 1, poked on every Push and on Close
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends ctl. It fails with ErrSessionClosed once the queue is closed.
func (q *Queue) Push(ctl *message.Controller) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrSessionClosed
	}
	q.items = append(q.items, ctl)
	q.mu.Unlock()
	q.poke()
	return nil
}

// Pop blocks until an envelope is available, the queue is closed and empty,
// or ctx is done. ok is false in the latter two cases.
func (q *Queue) Pop(ctx context.Context) (ctl *message.Controller, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ctl = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ctl, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close stops further pushes. It reports whether this call closed the queue.
func (q *Queue) Close() bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.closed = true
	q.mu.Unlock()
	q.poke()
	return true
}

// Drain closes the queue and removes everything still in it.
func (q *Queue) Drain() []*message.Controller {
	q.mu.Lock()
	q.closed = true
	items := q.items
	q.items = nil
	q.mu.Unlock()
	q.poke()
	return items
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) poke() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
