package kernel

import (
	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/proc"
	"github.com/roach88/s3k/internal/sched"
)

// slot resolves a user slot number of pid to a node index.
func (k *Kernel) slot(pid int, s uint64) (int, bool) {
	if !k.caps.ValidSlot(s) {
		return 0, false
	}
	return k.caps.Index(pid, int(s)), true
}

func lane(pid int, c capability.Time) sched.Lane {
	return sched.MakeLane(pid, c.Depth)
}

// liveness returns a predicate reporting whether node i still exists, for
// abandoning schedule updates raced by a delete.
func (k *Kernel) liveness(i int) func() bool {
	return func() bool { return k.caps.Live(i) }
}

func (k *Kernel) readCap(p *proc.Process, s uint64) result {
	i, valid := k.slot(p.PID, s)
	if !valid {
		return fail(abi.Error)
	}
	c, live := k.caps.Get(i)
	if !live {
		return fail(abi.Empty)
	}
	w := capability.Encode(c)
	return ok(w.W0, w.W1)
}

func (k *Kernel) moveCap(p *proc.Process, src, dst uint64) result {
	si, sok := k.slot(p.PID, src)
	di, dok := k.slot(p.PID, dst)
	if !sok || !dok {
		return fail(abi.Error)
	}
	return fail(k.move(si, di))
}

// move moves the capability in node src to the empty node dst, applying
// the side effects of a change of owner.
func (k *Kernel) move(src, dst int) abi.Status {
	c, live := k.caps.Get(src)
	if !live {
		return abi.Empty
	}
	if k.caps.Live(dst) || src == dst {
		return abi.Collision
	}
	from, _ := k.caps.Owner(src)
	to, _ := k.caps.Owner(dst)

	_, isPMP := c.(capability.PMP)
	loaded := -1
	if isPMP && from != to {
		loaded = k.loadedBy(from, src)
	}
	if !k.caps.Move(c, src, dst) {
		if k.caps.Live(dst) {
			return abi.Collision
		}
		return abi.Empty
	}
	if isPMP && from != to {
		// A region loaded by one process must not stay loaded once
		// another owns it. The loaded child follows the moved node, so
		// it is unloaded from dst only after the move succeeded.
		k.caps.Revoke(dst)
		if loaded >= 0 {
			g := k.procs.Get(from)
			g.PMPAddr[loaded], g.PMPCfg[loaded] = 0, 0
		}
	}
	if t, isTime := c.(capability.Time); isTime && from != to {
		k.sched.Update(int(t.Hart), int(t.Free), int(t.End), lane(from, t), lane(to, t), k.liveness(dst))
	}
	return abi.OK
}

func (k *Kernel) deleteCap(p *proc.Process, s uint64) result {
	i, valid := k.slot(p.PID, s)
	if !valid {
		return fail(abi.Error)
	}
	return fail(k.delete(i))
}

func (k *Kernel) delete(i int) abi.Status {
	c, live := k.caps.Get(i)
	if !live {
		return abi.Empty
	}
	if _, isPMP := c.(capability.PMP); isPMP {
		k.caps.Revoke(i)
	}
	if !k.caps.Delete(i) {
		return abi.Empty
	}
	if t, isTime := c.(capability.Time); isTime {
		pid, _ := k.caps.Owner(i)
		k.sched.Invalidate(int(t.Hart), int(t.Free), int(t.End), lane(pid, t), nil)
	}
	return abi.OK
}

func (k *Kernel) revokeCap(p *proc.Process, s uint64) result {
	i, valid := k.slot(p.PID, s)
	if !valid {
		return fail(abi.Error)
	}
	c, live := k.caps.Get(i)
	if !live {
		return fail(abi.Empty)
	}
	n := k.caps.Revoke(i)
	if t, isTime := c.(capability.Time); isTime {
		k.sched.Revert(int(t.Hart), int(t.Begin), int(t.End), lane(p.PID, t), k.liveness(i))
	}
	if !k.caps.Update(capability.AfterRevoke(c), i) {
		return fail(abi.Empty)
	}
	k.logger.Debug("revoked", "pid", p.PID, "slot", s, "deleted", n)
	return ok()
}

func (k *Kernel) deriveCap(p *proc.Process, src, dst, w0, w1 uint64) result {
	si, sok := k.slot(p.PID, src)
	di, dok := k.slot(p.PID, dst)
	if !sok || !dok {
		return fail(abi.Error)
	}
	child, err := capability.Decode(capability.Word{W0: w0, W1: w1})
	if err != nil {
		return fail(abi.IllegalDerivation)
	}
	parent, live := k.caps.Get(si)
	if !live {
		return fail(abi.Empty)
	}
	if k.caps.Live(di) {
		return fail(abi.Collision)
	}
	if !capability.CanDerive(parent, child) {
		return fail(abi.IllegalDerivation)
	}
	if !k.caps.Insert(child, di, si) {
		if k.caps.Live(di) {
			return fail(abi.Collision)
		}
		return fail(abi.Empty)
	}
	if !k.caps.Update(capability.AfterDerive(parent, child), si) {
		// Parent deleted under us; do not leave an orphan.
		k.caps.Delete(di)
		return fail(abi.Empty)
	}
	if t, isTime := child.(capability.Time); isTime {
		pt := parent.(capability.Time)
		k.sched.Install(int(t.Hart), int(t.Begin), int(t.End), lane(p.PID, pt), lane(p.PID, t), k.liveness(di))
	}
	return ok()
}

// ReceiverLive reports whether node still holds the receiver capability
// for ch.
func (k *Kernel) ReceiverLive(node int, ch uint16) bool {
	c, live := k.caps.Get(node)
	return live && c == capability.Capability(capability.Receiver{Channel: ch})
}

// Transfer moves slot src of from into slot dst of to. It serves
// capability grants riding on IPC messages.
func (k *Kernel) Transfer(from *proc.Process, src uint64, to *proc.Process, dst uint64) abi.Status {
	si, sok := k.slot(from.PID, src)
	di, dok := k.slot(to.PID, dst)
	if !sok || !dok {
		return abi.Error
	}
	return k.move(si, di)
}
