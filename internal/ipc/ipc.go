package ipc

import (
	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/proc"
)

// Message is the four-word payload of a send.
type Message [4]uint64

// Endpoints is what the handoff needs from the capability layer.
type Endpoints interface {
	// ReceiverLive reports whether node still holds a receiver
	// capability for ch.
	ReceiverLive(node int, ch uint16) bool
	// Transfer moves capability slot src of from into slot dst of to.
	Transfer(from *proc.Process, src uint64, to *proc.Process, dst uint64) abi.Status
}

// Channels couples the listener registry with the process table.
type Channels struct {
	reg   *Registry
	procs *proc.Table
	ep    Endpoints
}

// New creates the IPC layer.
func New(reg *Registry, procs *proc.Table, ep Endpoints) *Channels {
	return &Channels{reg: reg, procs: procs, ep: ep}
}

// Registry returns the listener registry.
func (c *Channels) Registry() *Registry { return c.reg }

// Recv blocks running process p on channel ch. recvNode is the node of the
// receiver capability being invoked and dst the slot that should receive a
// transferred capability (or abi.NoSlot).
//
// When blocked is true the process is WAITING and its registers belong to
// whoever wakes it; the caller must not touch them and must yield. The
// waker leaves the outcome in a0..a6. Otherwise status is the immediate
// result and p is still RUNNING.
func (c *Channels) Recv(p *proc.Process, ch uint16, recvNode int, dst uint64) (status abi.Status, blocked bool) {
	p.SetReceive(recvNode, ch, dst)
	p.SetClient(-1)
	if !p.Wait(ch) {
		// A halt is pending; the release after this call honours it.
		return abi.Interrupted, false
	}
	if !c.reg.Listen(ch, p.PID) {
		if p.Unwait(ch) {
			return abi.Collision, false
		}
		return 0, true
	}
	if !c.ep.ReceiverLive(recvNode, ch) {
		// Revoked while registering. If a sender already claimed us it
		// sees the same and wakes us with Empty.
		if c.reg.Unlisten(ch, p.PID) && p.Unwait(ch) {
			return abi.Empty, false
		}
	}
	return 0, true
}

// Send delivers msg to the receiver waiting on ch. If src is a slot, the
// sender's capability grants transfers and the receiver designated a
// destination, the capability in src moves along. Without grant only the
// message is delivered. moved reports whether a capability moved.
//
// A send never blocks: with nobody waiting, or a receiver that was halted
// or revoked in the meantime, it fails with NoReceiver and the sender is
// left unchanged.
func (c *Channels) Send(sender *proc.Process, ch uint16, msg Message, src uint64, grant bool) (status abi.Status, moved bool) {
	if !grant {
		src = abi.NoSlot
	}
	pid, ok := c.reg.Claim(ch)
	if !ok {
		return abi.NoReceiver, false
	}
	recv := c.procs.Get(pid)
	if !recv.BeginReceive(ch) {
		return abi.NoReceiver, false
	}

	// recv is RECEIVING: its registers are ours until FinishReceive.
	node, _, dst := recv.Receive()
	if !c.ep.ReceiverLive(node, ch) {
		recv.SetReg(abi.A0, uint64(abi.Empty))
		recv.FinishReceive()
		return abi.NoReceiver, false
	}
	if src != abi.NoSlot && dst != abi.NoSlot {
		if st := c.ep.Transfer(sender, src, recv, dst); st != abi.OK {
			recv.SetReg(abi.A0, uint64(st))
			recv.FinishReceive()
			return st, false
		}
		moved = true
	}
	for i, w := range msg {
		recv.SetReg(abi.A1+abi.Reg(i), w)
	}
	recv.SetReg(abi.A5, uint64(sender.PID))
	recv.SetReg(abi.A6, b2u(moved))
	recv.SetReg(abi.A0, uint64(abi.OK))
	recv.SetClient(sender.PID)
	recv.FinishReceive()
	return abi.OK, moved
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
