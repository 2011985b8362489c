package proc

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/s3k/internal/abi"
)

func TestNewTable_BootStates(t *testing.T) {
	tb := NewTable(3)
	require.Equal(t, 3, tb.Len())

	assert.Equal(t, Suspended, tb.Get(0).State())
	assert.Equal(t, Halted, tb.Get(1).State())
	assert.Equal(t, Halted, tb.Get(2).State())
	assert.Equal(t, -1, tb.Get(1).Client())

	node, _, slot := tb.Get(2).Receive()
	assert.Equal(t, -1, node)
	assert.Equal(t, abi.NoSlot, slot)

	assert.True(t, tb.Valid(2))
	assert.False(t, tb.Valid(3))
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Ready, "READY"},
		{Running | Halt, "RUNNING|HALT"},
		{WaitingOn(3), "WAITING{3}"},
		{ReceivingOn(7) | Halt, "RECEIVING{7}|HALT"},
		{Halted, "HALTED"},
		{SuspendedBusy, "SUSPENDED_BUSY"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.String())
			got, err := ParseState(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.s, got)
		})
	}

	_, err := ParseState("SLEEPING")
	assert.Error(t, err)
}

func TestAcquireRelease(t *testing.T) {
	p := NewTable(1).Get(0)

	require.True(t, p.Acquire())
	assert.Equal(t, Running, p.State())
	assert.False(t, p.Acquire(), "already running")

	p.Release()
	assert.Equal(t, Suspended, p.State())
}

func TestRelease_HonoursDeferredHalt(t *testing.T) {
	p := NewTable(1).Get(0)
	require.True(t, p.Acquire())

	assert.Equal(t, HaltDeferred, p.RequestHalt())
	assert.Equal(t, Running|Halt, p.State())

	p.Release()
	assert.Equal(t, Halted, p.State())
	assert.False(t, p.Acquire(), "halted processes are not scheduled")

	ok, busy := p.Resume()
	assert.True(t, ok)
	assert.False(t, busy)
	assert.True(t, p.Acquire())
}

func TestReceiveHandoff(t *testing.T) {
	p := NewTable(1).Get(0)
	require.True(t, p.Acquire())

	require.True(t, p.Wait(3))
	assert.Equal(t, WaitingOn(3), p.State())

	p.Release()
	assert.Equal(t, WaitingOn(3), p.State(), "release leaves a blocked process alone")
	assert.False(t, p.Acquire())

	assert.False(t, p.BeginReceive(4), "wrong channel")
	require.True(t, p.BeginReceive(3))
	assert.False(t, p.BeginReceive(3), "only one sender wins")

	p.FinishReceive()
	assert.Equal(t, Ready, p.State())
	assert.True(t, p.Acquire())
}

func TestWait_RefusedWhenHaltRequested(t *testing.T) {
	p := NewTable(1).Get(0)
	require.True(t, p.Acquire())
	p.RequestHalt()

	assert.False(t, p.Wait(1))
}

func TestRequestHalt_AbortsWaiting(t *testing.T) {
	p := NewTable(1).Get(0)
	require.True(t, p.Acquire())
	require.True(t, p.Wait(2))

	assert.Equal(t, HaltInterrupted, p.RequestHalt())
	assert.Equal(t, SuspendedBusy|Halt, p.State())
	assert.False(t, p.BeginReceive(2))

	p.ReleaseBusy()
	assert.Equal(t, Halted, p.State())
}

func TestFinishReceive_HaltRequestedDuringHandoff(t *testing.T) {
	p := NewTable(1).Get(0)
	require.True(t, p.Acquire())
	require.True(t, p.Wait(2))
	require.True(t, p.BeginReceive(2))

	assert.Equal(t, HaltDeferred, p.RequestHalt())
	p.FinishReceive()
	assert.Equal(t, Halted, p.State())
}

func TestBusy(t *testing.T) {
	p := NewTable(1).Get(0)

	require.True(t, p.AcquireBusy())
	assert.Equal(t, SuspendedBusy, p.State())
	assert.False(t, p.AcquireBusy(), "second supervisor is refused")
	assert.False(t, p.Acquire(), "scheduler cannot take a held process")
	assert.Equal(t, HaltBusy, p.RequestHalt())

	p.ReleaseBusy()
	assert.Equal(t, Suspended, p.State())

	require.True(t, p.Acquire())
	assert.False(t, p.AcquireBusy(), "running processes cannot be held")
}

func TestBusy_KeepsHaltFlag(t *testing.T) {
	p := NewTable(2).Get(1)
	require.True(t, p.AcquireBusy())
	assert.Equal(t, SuspendedBusy|Halt, p.State())

	_, busy := p.Resume()
	assert.True(t, busy)

	p.ReleaseBusy()
	assert.Equal(t, Halted, p.State())
}

func TestAcquire_SingleWinner(t *testing.T) {
	p := NewTable(1).Get(0)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Acquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
