package testutil

import (
	"sync"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/kernel"
)

// EventSink collects kernel events for assertions.
//
// Thread-safety: Record may be called from every hart concurrently.
type EventSink struct {
	mu     sync.Mutex
	events []kernel.Event
}

// Record implements kernel.Recorder.
func (s *EventSink) Record(e kernel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of everything recorded so far.
func (s *EventSink) Events() []kernel.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kernel.Event(nil), s.events...)
}

// Calls returns the events of pid for call, in order.
func (s *EventSink) Calls(pid int, call abi.Call) []kernel.Event {
	var out []kernel.Event
	for _, e := range s.Events() {
		if e.PID == pid && e.Call == call {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (s *EventSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Reset discards everything recorded.
func (s *EventSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
