package kernel

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/clock"
	"github.com/roach88/s3k/internal/proc"
	"github.com/roach88/s3k/internal/tracing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// trapSwitcher makes every dispatched process call get_pid once and then
// run out its slice.
type trapSwitcher struct {
	k      *Kernel
	clock  *clock.Manual
	mu     sync.Mutex
	seen   []int
	limit  int
	cancel context.CancelFunc
}

func (s *trapSwitcher) Resume(ctx context.Context, hart int, p *proc.Process) error {
	p.SetReg(abi.T0, uint64(abi.GetPID))
	s.k.Syscall(ctx, hart, p)

	s.mu.Lock()
	s.seen = append(s.seen, p.PID)
	done := len(s.seen) >= s.limit
	s.mu.Unlock()
	if done {
		s.cancel()
	}
	return s.clock.WaitUntil(ctx, p.Timeout)
}

func TestRun_DispatchesScheduledProcesses(t *testing.T) {
	c := clock.NewVirtual(1)
	var mu sync.Mutex
	var pids []int
	k := newTestKernel(t, WithClock(c), WithRecorder(RecorderFunc(func(e Event) {
		mu.Lock()
		pids = append(pids, int(e.Results[0]))
		mu.Unlock()
	})))

	// Quanta 0..3 go to pid 1.
	p0 := running(t, k, 0)
	require.Equal(t, abi.OK, derive(k, p0, slotTime, slotFree, capability.Time{Begin: 0, End: 4, Free: 0, Depth: 1}))
	require.Equal(t, abi.OK, invoke(k, p0, slotSupervisor, abi.OpGiveCap, 1, slotFree, 0).status)
	require.Equal(t, abi.OK, invoke(k, p0, slotSupervisor, abi.OpResume, 1).status)
	p0.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw := &trapSwitcher{k: k, clock: c, limit: 3, cancel: cancel}
	require.NoError(t, k.Run(ctx, sw))

	assert.Equal(t, []int{1, 0, 1}, sw.seen)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0, 1}, pids)
}

func TestRun_StopsOnCorruptHiddenSlot(t *testing.T) {
	c := clock.NewVirtual(1)
	k := newTestKernel(t, WithClock(c))

	// Plant something other than a loaded region in a hidden slot.
	require.True(t, k.Caps().Insert(capability.Receiver{Channel: 1}, k.Caps().Hidden(0, 4), k.channelsRoot()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := k.Run(ctx, &trapSwitcher{k: k, clock: c, limit: 1, cancel: cancel})
	require.Error(t, err)
	assert.True(t, IsInvariantError(err))
}

func TestCheck_DetectsRangeCorruption(t *testing.T) {
	k := newTestKernel(t)
	i := k.Caps().Index(0, slotMem)
	require.True(t, k.Caps().Update(capability.Memory{Begin: 50, End: 100, Free: 10, RWX: capability.RWXAll}, i))

	err := k.Check()
	require.Error(t, err)
	assert.True(t, IsInvariantError(err))
	assert.Contains(t, err.Error(), string(ErrCodeRangeCorrupt))
}

func TestSyscall_Spans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := tracing.InitWithExporter("s3k", "test", exp)
	require.NoError(t, err)
	defer shutdown(context.Background())

	k := newTestKernel(t, WithTracing())
	p := running(t, k, 0)
	sys(k, p, abi.ReadCap, slotFree)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "syscall.read_cap", spans[0].Name)
}
