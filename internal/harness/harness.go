package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/audit"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/proc"
	"github.com/roach88/s3k/internal/store"
	"github.com/roach88/s3k/internal/testutil"
)

// Harness executes one scenario's flow against a kernel.
type Harness struct {
	kernel *kernel.Kernel
	logger *slog.Logger
}

// RunID returns the audit run id a scenario is recorded under.
func RunID(s *Scenario) string {
	return "scenario-" + s.Name
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Decode the board and boot a kernel recording into the audit log
//  2. Execute flow steps, checking their expect clauses
//  3. Flush the audit log and read the trace back
//  4. Run the kernel's invariant check and the assertions
func Run(s *Scenario) (*Result, error) {
	return RunContext(context.Background(), s)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, s *Scenario) (*Result, error) {
	b, err := s.LoadBoard()
	if err != nil {
		return nil, err
	}
	kc, err := b.Kernel()
	if err != nil {
		return nil, err
	}
	cfg, err := b.Canonical()
	if err != nil {
		return nil, err
	}
	hash, err := b.Hash()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	log, err := audit.Start(ctx, st, testutil.NewFixedRunIDs(RunID(s)),
		audit.Boot{ConfigHash: hash, Config: string(cfg), Version: "test"},
		audit.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	k, err := kernel.New(kc, kernel.WithRecorder(log), kernel.WithLogger(logger))
	if err != nil {
		log.Close()
		return nil, err
	}
	h := &Harness{kernel: k, logger: logger}

	result := NewResult()
	result.RunID = log.RunID()
	result.Kernel = k
	for i, step := range s.Flow {
		if err := h.step(ctx, i, step, result); err != nil {
			log.Close()
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
	}
	if err := log.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush audit log: %w", err)
	}

	rows, err := st.ReadSyscalls(ctx, store.Filter{RunID: result.RunID})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result.Trace = append(result.Trace, traceEvent(row))
	}

	if err := k.Check(); err != nil {
		result.AddError(fmt.Sprintf("invariant check failed: %v", err))
	}

	actx := &AssertionContext{Kernel: k, Store: st, RunID: result.RunID, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) process(pid int) (*proc.Process, error) {
	if pid < 0 || pid >= h.kernel.Procs().Len() {
		return nil, fmt.Errorf("no process %d", pid)
	}
	return h.kernel.Procs().Get(pid), nil
}

// acquire makes pid the running process, as a hart dispatching it would.
func (h *Harness) acquire(pid int) (*proc.Process, error) {
	p, err := h.process(pid)
	if err != nil {
		return nil, err
	}
	if p.State().Base() == proc.Running || p.Acquire() {
		return p, nil
	}
	return nil, fmt.Errorf("pid %d cannot run in state %v", pid, p.State())
}

func (h *Harness) step(ctx context.Context, i int, st Step, result *Result) error {
	switch {
	case st.Hold != nil:
		p, err := h.process(*st.Hold)
		if err != nil {
			return err
		}
		if !p.AcquireBusy() {
			return fmt.Errorf("pid %d cannot be held in state %v", p.PID, p.State())
		}
		return nil
	case st.Unhold != nil:
		p, err := h.process(*st.Unhold)
		if err != nil {
			return err
		}
		p.ReleaseBusy()
		return nil
	case st.Release:
		p, err := h.process(st.PID)
		if err != nil {
			return err
		}
		p.Release()
		h.checkState(i, st, p, result)
		return nil
	case st.Fault != nil:
		p, err := h.acquire(st.PID)
		if err != nil {
			return err
		}
		if h.kernel.Exception(ctx, st.Hart, p, st.Fault.Cause, st.Fault.Tval) == kernel.Yield {
			p.Release()
		}
		h.checkState(i, st, p, result)
		return nil
	}

	p, err := h.acquire(st.PID)
	if err != nil {
		return err
	}
	call, _ := abi.ParseCall(st.Call)
	args := make([]uint64, 0, 8)
	for _, w := range st.Args {
		args = append(args, uint64(w))
	}
	if st.Cap != nil {
		c, _ := st.Cap.Capability()
		w := capability.Encode(c)
		args = append(args, w.W0, w.W1)
	}

	p.SetReg(abi.T0, uint64(call))
	for n := 0; n < 8; n++ {
		var v uint64
		if n < len(args) {
			v = args[n]
		}
		p.SetReg(abi.Arg(n), v)
	}

	action := h.kernel.Syscall(ctx, st.Hart, p)
	blocked := p.State().Base() != proc.Running
	if action == kernel.Yield {
		p.Release()
	}
	h.logger.Info("flow step completed", "step", i, "pid", st.PID, "call", call, "blocked", blocked)

	if st.Expect != nil {
		h.checkCall(i, st, p, blocked, result)
	}
	return nil
}

func (h *Harness) checkCall(i int, st Step, p *proc.Process, blocked bool, result *Result) {
	e := st.Expect
	where := fmt.Sprintf("flow[%d] %s by pid %d", i, st.Call, st.PID)

	if e.Blocked != blocked {
		result.AddError(fmt.Sprintf("%s: blocked = %t, want %t", where, blocked, e.Blocked))
		return
	}
	if !blocked {
		status := abi.Status(p.Reg(abi.A0))
		if e.Status != "" && status.String() != e.Status {
			result.AddError(fmt.Sprintf("%s: status %s, want %s", where, status, e.Status))
		}
		for n, want := range e.Results {
			if got := p.Reg(abi.A1 + abi.Reg(n)); got != uint64(want) {
				result.AddError(fmt.Sprintf("%s: a%d = %#x, want %#x", where, n+1, got, uint64(want)))
			}
		}
		if e.Cap != nil {
			want, _ := e.Cap.Capability()
			got, err := capability.Decode(capability.Word{W0: p.Reg(abi.A1), W1: p.Reg(abi.A2)})
			if err != nil {
				result.AddError(fmt.Sprintf("%s: %v", where, err))
			} else if diff := cmp.Diff(want, got); diff != "" {
				result.AddError(fmt.Sprintf("%s: capability mismatch (-want +got):\n%s", where, diff))
			}
		}
	}
	h.checkState(i, st, p, result)
}

func (h *Harness) checkState(i int, st Step, p *proc.Process, result *Result) {
	if st.Expect == nil || st.Expect.State == "" {
		return
	}
	want, _ := proc.ParseState(st.Expect.State)
	if got := p.State(); got != want {
		result.AddError(fmt.Sprintf("flow[%d] pid %d: state %v, want %v", i, p.PID, got, want))
	}
}
