// Package proc implements the fixed process table and the process state
// machine.
//
// Every state transition is a compare-and-swap on the state word; there is
// no lock. Whoever wins a transition owns the process's register file until
// it hands the process on:
//   - the hart that moved it to RUNNING
//   - the sender that moved it to RECEIVING
//   - the supervisor that moved it to SUSPENDED_BUSY
package proc

import (
	"sync/atomic"

	"github.com/roach88/s3k/internal/abi"
)

// PMPSlots is the number of hardware PMP registers per process.
const PMPSlots = 8

// Process is one process control block.
type Process struct {
	PID int

	// Regs is the saved register file, indexed by abi.Reg.
	Regs [abi.NumRegs]uint64

	// PMP shadow, rebuilt from the process's loaded PMP capabilities
	// whenever it is switched to.
	PMPAddr [PMPSlots]uint64
	PMPCfg  [PMPSlots]uint8

	// Timeout is the tick at which the current time slice ends.
	Timeout uint64

	state  atomic.Uint64
	client atomic.Int32

	// recvSlot is the capability slot designated by the pending receive.
	recvSlot atomic.Uint64
	// recvNode is the node of the receiver capability the process is
	// listening with, recvChan its channel.
	recvNode atomic.Int32
	recvChan atomic.Uint32
}

func (p *Process) reset(pid int, s State) {
	p.PID = pid
	p.state.Store(uint64(s))
	p.client.Store(-1)
	p.recvSlot.Store(abi.NoSlot)
	p.recvNode.Store(-1)
}

// State returns the current state word.
func (p *Process) State() State {
	return State(p.state.Load())
}

func (p *Process) cas(from, to State) bool {
	return p.state.CompareAndSwap(uint64(from), uint64(to))
}

// Acquire moves an exactly READY or SUSPENDED process to RUNNING. Halted
// or flagged processes are never acquired.
func (p *Process) Acquire() bool {
	return p.cas(Ready, Running) || p.cas(Suspended, Running)
}

// Release moves a RUNNING process to SUSPENDED, or to HALTED when a halt
// was requested while it ran. A process that blocked in a receive is left
// alone.
func (p *Process) Release() {
	for {
		s := p.State()
		if s.Base() != Running {
			return
		}
		if p.cas(s, Suspended|s&Halt) {
			return
		}
	}
}

// Wait moves the running process to WAITING{ch}. It fails when a halt has
// been requested, so the process is halted instead of blocking.
func (p *Process) Wait(ch uint16) bool {
	return p.cas(Running, WaitingOn(ch))
}

// Unwait undoes Wait for a receive that could not be registered.
func (p *Process) Unwait(ch uint16) bool {
	return p.cas(WaitingOn(ch), Running)
}

// BeginReceive moves an exactly WAITING{ch} process to RECEIVING{ch}. The
// caller then owns its registers until FinishReceive.
func (p *Process) BeginReceive(ch uint16) bool {
	return p.cas(WaitingOn(ch), ReceivingOn(ch))
}

// FinishReceive releases a RECEIVING process to READY, or to HALTED when a
// halt was requested during the handoff.
func (p *Process) FinishReceive() {
	for {
		s := p.State()
		if s.Base() != Receiving {
			return
		}
		next := Ready
		if s.HaltRequested() {
			next = Halted
		}
		if p.cas(s, next) {
			return
		}
	}
}

// HaltResult is the outcome of RequestHalt.
type HaltResult int

const (
	// HaltDone means the process is now halted.
	HaltDone HaltResult = iota
	// HaltDeferred means the flag was set and is honoured at the next
	// release.
	HaltDeferred
	// HaltInterrupted means a waiting receive was aborted. The process is
	// held SUSPENDED_BUSY for the caller, who must report the aborted call
	// in its registers and then ReleaseBusy, leaving it halted.
	HaltInterrupted
	// HaltBusy means another supervisor holds the process.
	HaltBusy
)

// RequestHalt halts a suspended or ready process immediately, aborts a
// waiting one, and flags a running or receiving one.
func (p *Process) RequestHalt() HaltResult {
	for {
		s := p.State()
		switch s.Base() {
		case SuspendedBusy:
			return HaltBusy
		case Suspended, Ready:
			if p.cas(s, Halted) {
				return HaltDone
			}
		case Waiting:
			if p.cas(s, SuspendedBusy|Halt) {
				return HaltInterrupted
			}
		default:
			if s.HaltRequested() || p.cas(s, s|Halt) {
				return HaltDeferred
			}
		}
	}
}

// Resume clears the halt flag. A halted process becomes SUSPENDED and is
// schedulable again. ok is false if no halt was pending; busy is set when
// another supervisor holds the process.
func (p *Process) Resume() (ok, busy bool) {
	for {
		s := p.State()
		if s.Base() == SuspendedBusy {
			return false, true
		}
		if !s.HaltRequested() {
			return false, false
		}
		if p.cas(s, s&^Halt) {
			return true, false
		}
	}
}

// AcquireBusy gives a supervisor exclusive access to a suspended or halted
// process. It fails if the process is running, blocked, or already held.
func (p *Process) AcquireBusy() bool {
	for {
		s := p.State()
		if s.Base() != Suspended {
			return false
		}
		if p.cas(s, SuspendedBusy|s&Halt) {
			return true
		}
	}
}

// ReleaseBusy ends a supervisor's exclusive access.
func (p *Process) ReleaseBusy() {
	for {
		s := p.State()
		if s.Base() != SuspendedBusy {
			return
		}
		if p.cas(s, Suspended|s&Halt) {
			return
		}
	}
}

// Client returns the pid of the sender servicing this process's receive,
// or -1.
func (p *Process) Client() int {
	return int(p.client.Load())
}

// SetClient records the sender servicing this process's receive.
func (p *Process) SetClient(pid int) {
	p.client.Store(int32(pid))
}

// SetReceive records the receiver node, channel and destination slot of a
// pending receive. It must be called before the process becomes WAITING.
func (p *Process) SetReceive(node int, ch uint16, slot uint64) {
	p.recvNode.Store(int32(node))
	p.recvChan.Store(uint32(ch))
	p.recvSlot.Store(slot)
}

// Receive returns what SetReceive recorded.
func (p *Process) Receive() (node int, ch uint16, slot uint64) {
	return int(p.recvNode.Load()), uint16(p.recvChan.Load()), p.recvSlot.Load()
}

// Reg reads a saved register.
func (p *Process) Reg(r abi.Reg) uint64 {
	return p.Regs[r]
}

// SetReg writes a saved register.
func (p *Process) SetReg(r abi.Reg, v uint64) {
	p.Regs[r] = v
}

// Table is the fixed process table.
type Table struct {
	procs []Process
}

// NewTable creates n processes. Process 0 starts SUSPENDED; the rest start
// HALTED and wait for a supervisor to resume them.
func NewTable(n int) *Table {
	t := &Table{procs: make([]Process, n)}
	for pid := range t.procs {
		s := Halted
		if pid == 0 {
			s = Suspended
		}
		t.procs[pid].reset(pid, s)
	}
	return t
}

// Get returns process pid. pid must be in range.
func (t *Table) Get(pid int) *Process {
	return &t.procs[pid]
}

// Len returns the number of processes.
func (t *Table) Len() int {
	return len(t.procs)
}

// Valid reports whether pid names a process.
func (t *Table) Valid(pid uint64) bool {
	return pid < uint64(len(t.procs))
}
