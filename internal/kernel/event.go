package kernel

import (
	"sync/atomic"

	"github.com/roach88/s3k/internal/abi"
)

// Seq is a monotonic sequence counter for syscall events.
//
// Every completed system call is stamped with a strictly increasing
// number, giving a total order across harts that wall-clock ticks cannot.
type Seq struct {
	n atomic.Int64
}

// Next returns the next sequence number.
func (s *Seq) Next() int64 {
	return s.n.Add(1)
}

// Current returns the last number handed out.
func (s *Seq) Current() int64 {
	return s.n.Load()
}

// Event records one system call.
type Event struct {
	Seq  int64
	Tick uint64
	Hart int
	PID  int
	Call abi.Call
	// Args holds a0..a7 at trap time.
	Args [8]uint64
	// Status is the value left in a0. It is meaningless when Blocked.
	Status abi.Status
	// Results holds a1..a6 after the call.
	Results [6]uint64
	// Blocked is set when the call suspended the process in a receive.
	Blocked bool
}

// Recorder consumes syscall events. Record is called on the trapping
// hart and must not block.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(e Event) { f(e) }

type discard struct{}

func (discard) Record(Event) {}
