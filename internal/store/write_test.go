package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBoot(id string) Boot {
	return Boot{ID: id, ConfigHash: "abc", Config: `{"harts":1}`, StartedAt: 1, Version: "test"}
}

func testCall(run string, seq int64, pid int, op, status string) Syscall {
	return Syscall{
		RunID:   run,
		Seq:     seq,
		Tick:    uint64(seq * 10),
		PID:     pid,
		Op:      op,
		Args:    []uint64{1, ^uint64(0), 0, 0, 0, 0, 0, 0},
		Status:  status,
		Results: []uint64{uint64(pid), 0, 0, 0, 0, 0},
	}
}

func TestWriteReadSyscalls(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteBoot(ctx, testBoot("run-1")))

	calls := []Syscall{
		testCall("run-1", 2, 1, "yield", "OK"),
		testCall("run-1", 1, 0, "get_pid", "OK"),
		{RunID: "run-1", Seq: 3, PID: 2, Op: "invoke_cap", Args: make([]uint64, 8), Blocked: true},
	}
	require.NoError(t, s.WriteSyscalls(ctx, calls))

	got, err := s.ReadSyscalls(ctx, Filter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Seq, got[1].Seq, got[2].Seq}, "ordered by seq")
	assert.Equal(t, ^uint64(0), got[0].Args[1], "full 64-bit words survive")
	assert.Equal(t, uint64(10), got[0].Tick)
	assert.True(t, got[2].Blocked)
	assert.Empty(t, got[2].Results)

	id, err := SyscallID("run-1", 1)
	require.NoError(t, err)
	assert.Equal(t, id, got[0].ID)

	n, err := s.CountSyscalls(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWriteSyscalls_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteBoot(ctx, testBoot("run-1")))
	require.NoError(t, s.WriteBoot(ctx, testBoot("run-1")))

	c := testCall("run-1", 1, 0, "get_pid", "OK")
	require.NoError(t, s.WriteSyscall(ctx, c))
	require.NoError(t, s.WriteSyscall(ctx, c))

	n, err := s.CountSyscalls(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriteSyscalls_RequiresBoot(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteSyscall(context.Background(), testCall("nope", 1, 0, "get_pid", "OK"))
	assert.Error(t, err)
}

func TestBoots(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)

	boots, err := s.ReadBoots(ctx)
	require.NoError(t, err)
	assert.NotNil(t, boots)
	assert.Empty(t, boots)

	require.NoError(t, s.WriteBoot(ctx, testBoot("0190-a")))
	require.NoError(t, s.WriteBoot(ctx, testBoot("0190-b")))

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0190-b", latest)

	b, err := s.ReadBoot(ctx, "0190-a")
	require.NoError(t, err)
	assert.Equal(t, testBoot("0190-a"), b)

	_, err = s.ReadBoot(ctx, "zzz")
	assert.Error(t, err)
}
