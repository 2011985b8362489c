package sim

import (
	"fmt"
	"runtime"

	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/proc"
)

type trapKind int

const (
	trapSyscall trapKind = iota
	trapFault
	trapCompute
)

// request is what a program hands the hart when it traps.
type request struct {
	kind        trapKind
	cause, tval uint64
	ticks       uint64
}

// thread is the goroutine side of a process.
//
// The fields below req are touched only by the hart holding the process.
// Handoff between harts goes through the process state word, which
// orders them.
type thread struct {
	m    *Machine
	p    *proc.Process
	prog Program

	req    chan request
	resume chan kernel.Action
	done   chan struct{}
	err    error

	started bool
	exited  bool
	action  kernel.Action
	compute uint64
}

func newThread(m *Machine, p *proc.Process, prog Program) *thread {
	return &thread{
		m:      m,
		p:      p,
		prog:   prog,
		req:    make(chan request),
		resume: make(chan kernel.Action, 1),
		done:   make(chan struct{}),
	}
}

// dispatch hands the baton to the program: the first time by starting
// it, afterwards by completing its pending trap.
func (t *thread) dispatch() {
	if t.started {
		t.wake()
		return
	}
	t.started = true
	t.m.wg.Add(1)
	go t.run()
}

func (t *thread) wake() {
	t.resume <- t.action
}

func (t *thread) run() {
	defer t.m.wg.Done()
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("program panicked: %v", r)
		}
	}()
	t.prog(newUser(t))
}

// trap hands r to the hart and waits for the baton to come back. If the
// machine is closed first the goroutine exits.
func (t *thread) trap(r request) kernel.Action {
	select {
	case t.req <- r:
	case <-t.m.stop:
		runtime.Goexit()
	}
	select {
	case a := <-t.resume:
		return a
	case <-t.m.stop:
		runtime.Goexit()
	}
	return kernel.Continue
}
