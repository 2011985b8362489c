package kernel

import (
	"context"
	"strconv"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/proc"
	"github.com/roach88/s3k/internal/tracing"
)

// Action tells the hart what to do after a trap.
type Action int

const (
	// Continue returns to the trapping process.
	Continue Action = iota
	// Yield ends the process's slice: it yielded or blocked.
	Yield
)

// ecallSize is the length of the ecall instruction; the saved pc is
// advanced past it before dispatch.
const ecallSize = 4

// result is what a handler leaves for the trapping process.
type result struct {
	status  abi.Status
	values  []uint64 // a1, a2, ...
	action  Action
	blocked bool // registers no longer belong to us
}

func ok(values ...uint64) result {
	return result{status: abi.OK, values: values}
}

func fail(s abi.Status) result {
	return result{status: s}
}

// Syscall dispatches the system call trapped by p on hart. The selector is
// in t0 and arguments in a0..a7; the status is left in a0 and results in
// a1 onwards.
func (k *Kernel) Syscall(ctx context.Context, hart int, p *proc.Process) Action {
	call := abi.Call(p.Reg(abi.T0))
	var args [8]uint64
	copy(args[:], p.Regs[abi.A0:abi.A7+1])
	p.Regs[abi.PC] += ecallSize

	var span *tracing.Span
	if k.trace {
		_, span = tracing.StartSpan(ctx, "syscall."+call.String())
	}

	r := k.dispatch(hart, p, call, args)

	ev := Event{
		Seq:     k.seq.Next(),
		Tick:    k.clock.Now(),
		Hart:    hart,
		PID:     p.PID,
		Call:    call,
		Args:    args,
		Blocked: r.blocked,
	}
	if !r.blocked {
		p.SetReg(abi.A0, uint64(r.status))
		for i, v := range r.values {
			p.SetReg(abi.A1+abi.Reg(i), v)
		}
		ev.Status = r.status
		copy(ev.Results[:], p.Regs[abi.A1:abi.A6+1])
	}
	k.rec.Record(ev)

	if span != nil {
		span.WithInt("pid", int64(p.PID)).WithInt("hart", int64(hart)).WithAttributes(map[string]string{
			"status":  ev.Status.String(),
			"blocked": strconv.FormatBool(r.blocked),
		})
		tracing.EndSpan(span, nil)
	}
	k.logger.Debug("syscall",
		"hart", hart, "pid", p.PID, "call", call, "status", ev.Status, "blocked", r.blocked)

	if r.blocked {
		return Yield
	}
	return r.action
}

func (k *Kernel) dispatch(hart int, p *proc.Process, call abi.Call, a [8]uint64) result {
	switch call {
	case abi.GetPID:
		return ok(uint64(p.PID))
	case abi.ReadReg:
		if a[0] >= uint64(abi.NumRegs) {
			return fail(abi.Error)
		}
		return ok(p.Reg(abi.Reg(a[0])))
	case abi.WriteReg:
		if a[0] >= uint64(abi.NumRegs) {
			return fail(abi.Error)
		}
		old := p.Reg(abi.Reg(a[0]))
		p.SetReg(abi.Reg(a[0]), a[1])
		return ok(old)
	case abi.Yield:
		r := ok()
		r.action = Yield
		return r
	case abi.ReadCap:
		return k.readCap(p, a[0])
	case abi.MoveCap:
		return k.moveCap(p, a[0], a[1])
	case abi.DeleteCap:
		return k.deleteCap(p, a[0])
	case abi.RevokeCap:
		return k.revokeCap(p, a[0])
	case abi.DeriveCap:
		return k.deriveCap(p, a[0], a[1], a[2], a[3])
	case abi.InvokeCap:
		return k.invokeCap(hart, p, a)
	default:
		return fail(abi.Unimplemented)
	}
}
