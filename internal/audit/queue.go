package audit

import (
	"sync"

	"github.com/roach88/s3k/internal/kernel"
)

// queue is an unbounded FIFO of syscall events.
//
// Harts enqueue from the trap path and must never block on the writer, so
// there is no capacity limit. A one-slot signal channel coalesces wakeups
// and lets the writer wait with select.
type queue struct {
	mu     sync.Mutex
	events []kernel.Event
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		events: make([]kernel.Event, 0, 256),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. It returns false once the queue is closed.
// Safe to call from any goroutine.
func (q *queue) Enqueue(e kernel.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns up to max events, oldest first.
func (q *queue) Drain(max int) []kernel.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	if n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]kernel.Event, n)
	copy(out, q.events[:n])
	if n == len(q.events) {
		q.events = q.events[:0]
	} else {
		q.events = q.events[n:]
	}
	return out
}

// Wait returns a channel that signals when events may be available. It
// is closed by Close.
func (q *queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes the writer.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
