package audit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/store"
	"github.com/roach88/s3k/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestLog_RecordsKernelRun(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	l, err := Start(ctx, st, testutil.NewFixedRunIDs("run-1"),
		Boot{ConfigHash: "h", Config: "{}", Version: "test"},
		WithBatch(2), WithLogger(quiet()))
	require.NoError(t, err)
	assert.Equal(t, "run-1", l.RunID())

	k, err := kernel.New(kernel.Config{
		Harts: 1, Procs: 2, Caps: 8, Quanta: 4, Channels: 1, TicksPerQuantum: 10,
	}, kernel.WithRecorder(l), kernel.WithLogger(quiet()))
	require.NoError(t, err)

	p := k.Procs().Get(0)
	p.Resume()
	require.True(t, p.Acquire())
	for _, call := range []abi.Call{abi.GetPID, abi.ReadCap, abi.DeleteCap, abi.Yield, abi.GetPID} {
		p.SetReg(abi.T0, uint64(call))
		p.SetReg(abi.A0, 7)
		k.Syscall(ctx, 0, p)
	}
	require.NoError(t, l.Close())

	rows, err := st.ReadSyscalls(ctx, store.Filter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, r := range rows {
		assert.Equal(t, int64(i+1), r.Seq)
	}
	assert.Equal(t, "read_cap", rows[1].Op)
	assert.Equal(t, "EMPTY", rows[1].Status)
	assert.Equal(t, uint64(7), rows[1].Args[0])
	assert.Equal(t, "yield", rows[3].Op)

	boots, err := st.ReadBoots(ctx)
	require.NoError(t, err)
	require.Len(t, boots, 1)
	assert.Equal(t, "h", boots[0].ConfigHash)
}

func TestLog_RecordAfterCloseIsDropped(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	l, err := Start(ctx, st, testutil.NewFixedRunIDs("run-1"), Boot{Config: "{}"}, WithLogger(quiet()))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l.Record(kernel.Event{Seq: 1})
	n, err := st.CountSyscalls(ctx, "run-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLog_WriteErrorSurfacesOnClose(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	l, err := Start(ctx, st, testutil.NewFixedRunIDs("run-1"), Boot{Config: "{}"}, WithLogger(quiet()))
	require.NoError(t, err)

	require.NoError(t, st.Close())
	l.Record(kernel.Event{Seq: 1})
	assert.Error(t, l.Close())
}

func TestRow(t *testing.T) {
	e := kernel.Event{Seq: 3, Tick: 40, Hart: 1, PID: 2, Call: abi.InvokeCap, Blocked: true}
	e.Args[1] = 5
	r := Row("run", e)
	assert.Equal(t, "invoke_cap", r.Op)
	assert.Empty(t, r.Status, "blocked calls have no status")
	assert.Nil(t, r.Results)
	assert.Equal(t, uint64(5), r.Args[1])

	e.Blocked = false
	e.Status = abi.Collision
	assert.Equal(t, "COLLISION", Row("run", e).Status)
}
