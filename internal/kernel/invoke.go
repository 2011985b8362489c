package kernel

import (
	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/ipc"
	"github.com/roach88/s3k/internal/proc"
)

// pmpNAPOT is the A field of pmpcfg selecting NAPOT matching.
const pmpNAPOT = 3 << 3

// invokeCap dispatches invoke_cap(a0=slot, a1=op, a2..a7) on the type of
// the capability in the slot.
func (k *Kernel) invokeCap(hart int, p *proc.Process, a [8]uint64) result {
	i, valid := k.slot(p.PID, a[0])
	if !valid {
		return fail(abi.Error)
	}
	c, live := k.caps.Get(i)
	if !live {
		return fail(abi.Empty)
	}
	op := a[1]
	switch c := c.(type) {
	case capability.Memory, capability.Time, capability.Channels:
		switch op {
		case abi.OpSlice:
			return k.slice(p, i, c, a[2], a[3], capability.RWX(a[4]))
		case abi.OpSplit:
			return k.split(p, i, c, a[2], a[3])
		}
	case capability.PMP:
		switch op {
		case abi.OpLoad:
			return k.loadPMP(p, i, c, a[2])
		case abi.OpUnload:
			return k.unloadPMP(p, i)
		}
	case capability.Receiver:
		if op == abi.OpRecv {
			return k.recv(p, i, c, a[2])
		}
	case capability.Sender:
		if op == abi.OpSend {
			return k.send(p, c, ipc.Message{a[2], a[3], a[4], a[5]}, a[6], a[7] != 0)
		}
	case capability.Supervisor:
		return k.supervise(p, c, op, a)
	}
	return fail(abi.Unimplemented)
}

func (k *Kernel) slice(p *proc.Process, i int, c capability.Capability, begin, end uint64, rwx capability.RWX) result {
	if m, isMem := c.(capability.Memory); isMem && rwx == 0 {
		rwx = m.RWX
	}
	next, allowed := capability.Slice(c, begin, end, rwx)
	if !allowed {
		return fail(abi.IllegalDerivation)
	}
	if !k.caps.Update(next, i) {
		return fail(abi.Empty)
	}
	if t, isTime := c.(capability.Time); isTime {
		n := next.(capability.Time)
		own := lane(p.PID, t)
		k.sched.Invalidate(int(t.Hart), int(t.Begin), int(n.Begin), own, k.liveness(i))
		k.sched.Invalidate(int(t.Hart), int(n.End), int(t.End), own, k.liveness(i))
	}
	return ok()
}

func (k *Kernel) split(p *proc.Process, i int, c capability.Capability, dst, mid uint64) result {
	di, valid := k.slot(p.PID, dst)
	if !valid {
		return fail(abi.Error)
	}
	if k.caps.Live(di) {
		return fail(abi.Collision)
	}
	left, right, allowed := capability.Split(c, mid)
	if !allowed {
		return fail(abi.IllegalDerivation)
	}
	if !k.caps.Update(left, i) {
		return fail(abi.Empty)
	}
	if !k.caps.Insert(right, di, i) {
		k.caps.Update(c, i)
		if k.caps.Live(di) {
			return fail(abi.Collision)
		}
		return fail(abi.Empty)
	}
	return ok()
}

// loadedBy returns the hidden slot holding the loaded region of PMP node
// i, or -1.
func (k *Kernel) loadedBy(pid, i int) int {
	for n := 0; n < proc.PMPSlots; n++ {
		h := k.caps.Hidden(pid, n)
		if pred, live := k.caps.Pred(h); live && pred == i {
			return n
		}
	}
	return -1
}

func (k *Kernel) loadPMP(p *proc.Process, i int, c capability.PMP, slot uint64) result {
	if slot >= proc.PMPSlots {
		return fail(abi.Error)
	}
	if k.loadedBy(p.PID, i) >= 0 {
		return fail(abi.Collision)
	}
	loaded := capability.LoadedPMP{Addr: c.Addr, Cfg: uint8(c.RWX) | pmpNAPOT, Slot: uint8(slot)}
	if !k.caps.Insert(loaded, k.caps.Hidden(p.PID, int(slot)), i) {
		if k.caps.Live(k.caps.Hidden(p.PID, int(slot))) {
			return fail(abi.Collision)
		}
		return fail(abi.Empty)
	}
	p.PMPAddr[slot], p.PMPCfg[slot] = loaded.Addr, loaded.Cfg
	return ok()
}

func (k *Kernel) unloadPMP(p *proc.Process, i int) result {
	n := k.loadedBy(p.PID, i)
	if k.caps.Revoke(i) == 0 {
		return fail(abi.Empty)
	}
	if n >= 0 {
		p.PMPAddr[n], p.PMPCfg[n] = 0, 0
	}
	return ok()
}

// LoadPMP rebuilds p's PMP shadow from its hidden slots before it runs.
// It is the scheduler's switch hook.
func (k *Kernel) LoadPMP(_ int, p *proc.Process) error {
	for n := 0; n < proc.PMPSlots; n++ {
		h := k.caps.Hidden(p.PID, n)
		c, live := k.caps.Get(h)
		if !live {
			p.PMPAddr[n], p.PMPCfg[n] = 0, 0
			continue
		}
		l, isLoaded := c.(capability.LoadedPMP)
		if !isLoaded || int(l.Slot) != n {
			return invariantError(ErrCodeHiddenSlot, h, p.PID, "hidden slot %d holds %v", n, c)
		}
		p.PMPAddr[n], p.PMPCfg[n] = l.Addr, l.Cfg
	}
	return nil
}

func (k *Kernel) recv(p *proc.Process, i int, c capability.Receiver, dst uint64) result {
	if dst != abi.NoSlot && !k.caps.ValidSlot(dst) {
		return fail(abi.Error)
	}
	status, blocked := k.ipc.Recv(p, c.Channel, i, dst)
	if blocked {
		return result{blocked: true}
	}
	return fail(status)
}

func (k *Kernel) send(p *proc.Process, c capability.Sender, msg ipc.Message, src uint64, yield bool) result {
	if src != abi.NoSlot {
		si, valid := k.slot(p.PID, src)
		if !valid {
			return fail(abi.Error)
		}
		if !k.caps.Live(si) {
			return fail(abi.Empty)
		}
	}
	status, moved := k.ipc.Send(p, c.Channel, msg, src, c.Grant)
	r := result{status: status, values: []uint64{b2u(moved)}}
	if status == abi.OK && yield {
		r.action = Yield
	}
	return r
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
