package ipc

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/proc"
)

type fakeEndpoints struct {
	dead      map[int]bool
	xferState abi.Status
	moves     [][2]uint64
}

func (f *fakeEndpoints) ReceiverLive(node int, _ uint16) bool { return !f.dead[node] }

func (f *fakeEndpoints) Transfer(_ *proc.Process, src uint64, _ *proc.Process, dst uint64) abi.Status {
	if f.xferState != abi.OK {
		return f.xferState
	}
	f.moves = append(f.moves, [2]uint64{src, dst})
	return abi.OK
}

// running returns a table of n processes with all of them RUNNING.
func running(t *testing.T, n int) *proc.Table {
	tb := proc.NewTable(n)
	for pid := 0; pid < n; pid++ {
		p := tb.Get(pid)
		p.Resume()
		require.True(t, p.Acquire())
	}
	return tb
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(4)
	assert.Equal(t, -1, r.Listener(2))

	require.True(t, r.Listen(2, 1))
	assert.False(t, r.Listen(2, 3), "one listener per channel")
	assert.Equal(t, 1, r.Listener(2))

	pid, ok := r.Claim(2)
	require.True(t, ok)
	assert.Equal(t, 1, pid)
	_, ok = r.Claim(2)
	assert.False(t, ok)

	require.True(t, r.Listen(2, 3))
	assert.False(t, r.Unlisten(2, 1))
	assert.True(t, r.Unlisten(2, 3))

	assert.False(t, r.Listen(9, 0), "out of range")
	_, ok = r.Claim(9)
	assert.False(t, ok)
}

func TestRegistry_ConcurrentClaimHasOneWinner(t *testing.T) {
	r := NewRegistry(1)
	require.True(t, r.Listen(0, 5))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Claim(0); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSend_NoReceiver(t *testing.T) {
	procs := running(t, 2)
	c := New(NewRegistry(8), procs, &fakeEndpoints{})

	st, moved := c.Send(procs.Get(0), 3, Message{1, 2, 3, 4}, abi.NoSlot, false)
	assert.Equal(t, abi.NoReceiver, st)
	assert.False(t, moved)
	assert.Equal(t, proc.Running, procs.Get(0).State(), "sender is unchanged")
}

func TestSendReceiveHandoff(t *testing.T) {
	procs := running(t, 2)
	ep := &fakeEndpoints{}
	c := New(NewRegistry(8), procs, ep)
	a, b := procs.Get(0), procs.Get(1)

	_, blocked := c.Recv(b, 3, 42, 5)
	require.True(t, blocked)
	assert.Equal(t, proc.WaitingOn(3), b.State())
	assert.Equal(t, 1, c.Registry().Listener(3))

	st, moved := c.Send(a, 3, Message{10, 20, 30, 40}, 2, true)
	require.Equal(t, abi.OK, st)
	assert.True(t, moved)
	assert.Equal(t, [][2]uint64{{2, 5}}, ep.moves)

	assert.Equal(t, proc.Ready, b.State())
	assert.Equal(t, uint64(abi.OK), b.Reg(abi.A0))
	assert.Equal(t, []uint64{10, 20, 30, 40}, b.Regs[abi.A1:abi.A5])
	assert.Equal(t, uint64(0), b.Reg(abi.A5), "sender pid")
	assert.Equal(t, uint64(1), b.Reg(abi.A6))
	assert.Equal(t, 0, b.Client())
	assert.Equal(t, -1, c.Registry().Listener(3))
}

func TestSend_WithoutGrantDeliversMessageOnly(t *testing.T) {
	procs := running(t, 2)
	ep := &fakeEndpoints{}
	c := New(NewRegistry(8), procs, ep)
	_, blocked := c.Recv(procs.Get(1), 1, 0, 0)
	require.True(t, blocked)

	st, moved := c.Send(procs.Get(0), 1, Message{5, 6}, 4, false)
	assert.Equal(t, abi.OK, st)
	assert.False(t, moved)
	assert.Empty(t, ep.moves, "no capability crosses without grant")

	r := procs.Get(1)
	assert.Equal(t, proc.Ready, r.State())
	assert.Equal(t, uint64(abi.OK), r.Reg(abi.A0))
	assert.Equal(t, uint64(5), r.Reg(abi.A1))
	assert.Equal(t, uint64(6), r.Reg(abi.A2))
	assert.Equal(t, uint64(0), r.Reg(abi.A5))
	assert.Equal(t, uint64(0), r.Reg(abi.A6))
}

func TestSend_ReceiverDesignatedNoSlot(t *testing.T) {
	procs := running(t, 2)
	ep := &fakeEndpoints{}
	c := New(NewRegistry(8), procs, ep)
	_, blocked := c.Recv(procs.Get(1), 1, 0, abi.NoSlot)
	require.True(t, blocked)

	st, moved := c.Send(procs.Get(0), 1, Message{7}, 4, true)
	assert.Equal(t, abi.OK, st)
	assert.False(t, moved)
	assert.Empty(t, ep.moves)
	assert.Equal(t, uint64(0), procs.Get(1).Reg(abi.A6))
}

func TestSend_TransferFailureWakesReceiver(t *testing.T) {
	procs := running(t, 2)
	c := New(NewRegistry(8), procs, &fakeEndpoints{xferState: abi.Collision})
	_, blocked := c.Recv(procs.Get(1), 1, 0, 3)
	require.True(t, blocked)

	st, moved := c.Send(procs.Get(0), 1, Message{}, 4, true)
	assert.Equal(t, abi.Collision, st)
	assert.False(t, moved)
	assert.Equal(t, proc.Ready, procs.Get(1).State())
	assert.Equal(t, uint64(abi.Collision), procs.Get(1).Reg(abi.A0))
}

func TestSend_RevokedReceiver(t *testing.T) {
	procs := running(t, 2)
	ep := &fakeEndpoints{dead: map[int]bool{}}
	c := New(NewRegistry(8), procs, ep)
	_, blocked := c.Recv(procs.Get(1), 1, 9, abi.NoSlot)
	require.True(t, blocked)

	ep.dead[9] = true
	st, _ := c.Send(procs.Get(0), 1, Message{}, abi.NoSlot, false)
	assert.Equal(t, abi.NoReceiver, st)
	assert.Equal(t, proc.Ready, procs.Get(1).State())
	assert.Equal(t, uint64(abi.Empty), procs.Get(1).Reg(abi.A0))
}

func TestRecv_RevokedWhileRegistering(t *testing.T) {
	procs := running(t, 1)
	c := New(NewRegistry(8), procs, &fakeEndpoints{dead: map[int]bool{4: true}})

	st, blocked := c.Recv(procs.Get(0), 2, 4, abi.NoSlot)
	assert.False(t, blocked)
	assert.Equal(t, abi.Empty, st)
	assert.Equal(t, proc.Running, procs.Get(0).State())
	assert.Equal(t, -1, c.Registry().Listener(2))
}

func TestRecv_ChannelTaken(t *testing.T) {
	procs := running(t, 2)
	c := New(NewRegistry(8), procs, &fakeEndpoints{})
	_, blocked := c.Recv(procs.Get(0), 2, 0, abi.NoSlot)
	require.True(t, blocked)

	st, blocked := c.Recv(procs.Get(1), 2, 1, abi.NoSlot)
	assert.False(t, blocked)
	assert.Equal(t, abi.Collision, st)
	assert.Equal(t, proc.Running, procs.Get(1).State())
}

func TestRecv_HaltPending(t *testing.T) {
	procs := running(t, 1)
	c := New(NewRegistry(8), procs, &fakeEndpoints{})
	p := procs.Get(0)
	p.RequestHalt()

	st, blocked := c.Recv(p, 0, 0, abi.NoSlot)
	assert.False(t, blocked)
	assert.Equal(t, abi.Interrupted, st)
	p.Release()
	assert.Equal(t, proc.Halted, p.State())
}

func TestSend_HaltedReceiver(t *testing.T) {
	procs := running(t, 2)
	c := New(NewRegistry(8), procs, &fakeEndpoints{})
	b := procs.Get(1)
	_, blocked := c.Recv(b, 0, 0, abi.NoSlot)
	require.True(t, blocked)
	require.Equal(t, proc.HaltInterrupted, b.RequestHalt())

	st, _ := c.Send(procs.Get(0), 0, Message{}, abi.NoSlot, false)
	assert.Equal(t, abi.NoReceiver, st)
	assert.Equal(t, -1, c.Registry().Listener(0), "stale registration is consumed")
}
