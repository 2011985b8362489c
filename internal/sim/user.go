package sim

import (
	"log/slog"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/ipc"
	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/proc"
)

// User is a program's view of its process: the system-call instruction
// and the register file.
type User struct {
	t      *thread
	p      *proc.Process
	logger *slog.Logger
}

func newUser(t *thread) *User {
	return &User{t: t, p: t.p, logger: t.m.logger.With("pid", t.p.PID)}
}

// PID returns the process id as the program was started with.
func (u *User) PID() int { return u.p.PID }

// Logger returns a logger tagged with the pid.
func (u *User) Logger() *slog.Logger { return u.logger }

// Reg reads one of the program's own registers directly.
func (u *User) Reg(r abi.Reg) uint64 { return u.p.Reg(r) }

// SetReg writes one of the program's own registers directly.
func (u *User) SetReg(r abi.Reg, v uint64) { u.p.SetReg(r, v) }

// Call issues a raw system call with arguments in a0 onwards. It returns
// the status from a0 and a1..a6.
func (u *User) Call(call abi.Call, args ...uint64) (abi.Status, [6]uint64) {
	if len(args) > 8 {
		panic("sim: more than eight syscall arguments")
	}
	u.p.SetReg(abi.T0, uint64(call))
	for i := 0; i < 8; i++ {
		var v uint64
		if i < len(args) {
			v = args[i]
		}
		u.p.SetReg(abi.Arg(i), v)
	}
	u.t.trap(request{kind: trapSyscall})

	var out [6]uint64
	for i := range out {
		out[i] = u.p.Reg(abi.A1 + abi.Reg(i))
	}
	return abi.Status(u.p.Reg(abi.A0)), out
}

// GetPID asks the kernel for the process id.
func (u *User) GetPID() int {
	_, v := u.Call(abi.GetPID)
	return int(v[0])
}

// ReadReg reads a saved register through the kernel.
func (u *User) ReadReg(r abi.Reg) (uint64, abi.Status) {
	s, v := u.Call(abi.ReadReg, uint64(r))
	return v[0], s
}

// WriteReg writes a saved register through the kernel and returns the old
// value.
func (u *User) WriteReg(r abi.Reg, val uint64) (uint64, abi.Status) {
	s, v := u.Call(abi.WriteReg, uint64(r), val)
	return v[0], s
}

// Yield gives up the rest of the time slice.
func (u *User) Yield() {
	u.Call(abi.Yield)
}

// ReadCap returns the capability in slot.
func (u *User) ReadCap(slot uint64) (capability.Capability, abi.Status) {
	s, v := u.Call(abi.ReadCap, slot)
	if s != abi.OK {
		return nil, s
	}
	c, err := capability.Decode(capability.Word{W0: v[0], W1: v[1]})
	if err != nil {
		return nil, abi.Error
	}
	return c, s
}

// MoveCap moves a capability between two of the program's slots.
func (u *User) MoveCap(src, dst uint64) abi.Status {
	s, _ := u.Call(abi.MoveCap, src, dst)
	return s
}

// DeleteCap deletes the capability in slot.
func (u *User) DeleteCap(slot uint64) abi.Status {
	s, _ := u.Call(abi.DeleteCap, slot)
	return s
}

// RevokeCap deletes every capability derived from the one in slot.
func (u *User) RevokeCap(slot uint64) abi.Status {
	s, _ := u.Call(abi.RevokeCap, slot)
	return s
}

// DeriveCap derives child from the capability in src into dst.
func (u *User) DeriveCap(src, dst uint64, child capability.Capability) abi.Status {
	w := capability.Encode(child)
	s, _ := u.Call(abi.DeriveCap, src, dst, w.W0, w.W1)
	return s
}

// Invoke runs op on the capability in slot with up to six parameters.
func (u *User) Invoke(slot, op uint64, params ...uint64) (abi.Status, [6]uint64) {
	return u.Call(abi.InvokeCap, append([]uint64{slot, op}, params...)...)
}

// Slice narrows the range capability in slot.
func (u *User) Slice(slot, begin, end uint64, rwx capability.RWX) abi.Status {
	s, _ := u.Invoke(slot, abi.OpSlice, begin, end, uint64(rwx))
	return s
}

// Split cuts the range capability in slot at mid; the upper half goes to
// dst.
func (u *User) Split(slot, dst, mid uint64) abi.Status {
	s, _ := u.Invoke(slot, abi.OpSplit, dst, mid)
	return s
}

// LoadPMP loads the PMP capability in slot into PMP register n.
func (u *User) LoadPMP(slot, n uint64) abi.Status {
	s, _ := u.Invoke(slot, abi.OpLoad, n)
	return s
}

// UnloadPMP unloads the PMP capability in slot.
func (u *User) UnloadPMP(slot uint64) abi.Status {
	s, _ := u.Invoke(slot, abi.OpUnload)
	return s
}

// Received is what a receive delivers.
type Received struct {
	Msg    ipc.Message
	Sender int
	// Moved is set when a capability arrived in the designated slot.
	Moved bool
}

// Recv waits for a message on the receiver capability in slot. A
// transferred capability lands in dst; pass abi.NoSlot to refuse one.
func (u *User) Recv(slot, dst uint64) (Received, abi.Status) {
	s, v := u.Invoke(slot, abi.OpRecv, dst)
	if s != abi.OK {
		return Received{}, s
	}
	return Received{
		Msg:    ipc.Message{v[0], v[1], v[2], v[3]},
		Sender: int(v[4]),
		Moved:  v[5] != 0,
	}, s
}

// Send delivers msg on the sender capability in slot to a waiting
// receiver. capSlot names a capability to transfer, or abi.NoSlot. With
// yield set the rest of the slice is given up after a successful send.
func (u *User) Send(slot uint64, msg ipc.Message, capSlot uint64, yield bool) (moved bool, s abi.Status) {
	var y uint64
	if yield {
		y = 1
	}
	s, v := u.Invoke(slot, abi.OpSend, msg[0], msg[1], msg[2], msg[3], capSlot, y)
	return v[0] != 0, s
}

// Supervise runs a supervisor op on pid through the capability in slot.
func (u *User) Supervise(slot, op uint64, pid int, params ...uint64) (abi.Status, [6]uint64) {
	return u.Invoke(slot, op, append([]uint64{uint64(pid)}, params...)...)
}

// Compute burns ticks of processor time. It may be preempted any number
// of times before it completes.
func (u *User) Compute(ticks uint64) {
	if ticks == 0 {
		return
	}
	u.t.trap(request{kind: trapCompute, ticks: ticks})
}

// Fault raises a synchronous exception. It returns true if the process
// has a trap handler and continues there; ecause and eval then hold the
// cause and value. Otherwise the process is halted, and Fault only
// returns if a supervisor resumes it.
func (u *User) Fault(cause, tval uint64) bool {
	return u.t.trap(request{kind: trapFault, cause: cause, tval: tval}) == kernel.Continue
}
