package kernel

import (
	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/proc"
)

// supervise implements the supervisor sub-operations. The target pid is in
// a2 and must lie in the capability's undelegated range [free, end).
//
//	suspend   -
//	resume    -
//	get_state           -> a1 state word
//	read_reg  a3=reg    -> a1 value
//	write_reg a3=reg a4=value -> a1 old value
//	read_cap  a3=slot   -> a1, a2 capability words
//	give_cap  a3=own slot a4=target slot
//	take_cap  a3=target slot a4=own slot
func (k *Kernel) supervise(p *proc.Process, c capability.Supervisor, op uint64, a [8]uint64) result {
	pid := a[2]
	if pid < uint64(c.Free) || pid >= uint64(c.End) || !k.procs.Valid(pid) {
		return fail(abi.Error)
	}
	target := k.procs.Get(int(pid))

	switch op {
	case abi.OpSuspend:
		return k.suspend(target)
	case abi.OpResume:
		if _, busy := target.Resume(); busy {
			return fail(abi.SuperviseeBusy)
		}
		return ok()
	case abi.OpGetState:
		return ok(uint64(target.State()))
	case abi.OpReadCap:
		return k.readCap(target, a[3])
	case abi.OpReadReg, abi.OpWriteReg, abi.OpGiveCap, abi.OpTakeCap:
	default:
		return fail(abi.Unimplemented)
	}

	// The remaining operations need the target held SUSPENDED_BUSY.
	if target == p || !target.AcquireBusy() {
		return fail(abi.SuperviseeBusy)
	}
	defer target.ReleaseBusy()

	switch op {
	case abi.OpReadReg:
		if a[3] >= uint64(abi.NumRegs) {
			return fail(abi.Error)
		}
		return ok(target.Reg(abi.Reg(a[3])))
	case abi.OpWriteReg:
		if a[3] >= uint64(abi.NumRegs) {
			return fail(abi.Error)
		}
		old := target.Reg(abi.Reg(a[3]))
		target.SetReg(abi.Reg(a[3]), a[4])
		return ok(old)
	case abi.OpGiveCap:
		si, sok := k.slot(p.PID, a[3])
		di, dok := k.slot(target.PID, a[4])
		if !sok || !dok {
			return fail(abi.Error)
		}
		return fail(k.move(si, di))
	default: // abi.OpTakeCap
		si, sok := k.slot(target.PID, a[3])
		di, dok := k.slot(p.PID, a[4])
		if !sok || !dok {
			return fail(abi.Error)
		}
		return fail(k.move(si, di))
	}
}

// suspend halts target now if it is not running, or at its next release
// if it is. A process blocked in a receive is pulled out of it with
// Interrupted in a0.
func (k *Kernel) suspend(target *proc.Process) result {
	switch target.RequestHalt() {
	case proc.HaltBusy:
		return fail(abi.SuperviseeBusy)
	case proc.HaltInterrupted:
		_, ch, _ := target.Receive()
		k.ipc.Registry().Unlisten(ch, target.PID)
		target.SetReg(abi.A0, uint64(abi.Interrupted))
		target.ReleaseBusy()
	}
	return ok()
}
