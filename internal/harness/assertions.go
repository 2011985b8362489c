package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/proc"
	"github.com/roach88/s3k/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			outcome := ev.Status
			if ev.Blocked {
				outcome = "blocked"
			}
			fmt.Fprintf(&buf, "  [%d] pid %d %s %v -> %s\n", ev.Seq, ev.PID, ev.Call, ev.Args, outcome)
		}
	}
	return buf.String()
}

// AssertionContext provides what assertions inspect.
type AssertionContext struct {
	Kernel *kernel.Kernel
	Store  *store.Store
	RunID  string
	Ctx    context.Context
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertStatus:
		return assertStatus(result.Trace, a, actx)
	case AssertCap:
		return assertCap(a, actx.Kernel)
	case AssertEmpty:
		return assertEmpty(a, actx.Kernel)
	case AssertState:
		return assertState(a, actx.Kernel)
	case AssertSchedule:
		return assertSchedule(a, actx.Kernel)
	case AssertReg:
		return assertReg(a, actx.Kernel)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertStatus counts matching calls in the audit store.
func assertStatus(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	f := store.Filter{RunID: actx.RunID, Statuses: []string{a.Status}}
	if a.PID != nil {
		f.PIDs = []int{*a.PID}
	}
	if a.Call != "" {
		f.Ops = []string{a.Call}
	}
	rows, err := actx.Store.ReadSyscalls(actx.Ctx, f)
	if err != nil {
		return err
	}

	what := fmt.Sprintf("%s returning %s", orAny(a.Call), a.Status)
	if a.PID != nil {
		what += fmt.Sprintf(" by pid %d", *a.PID)
	}
	switch {
	case a.Count != nil && len(rows) != *a.Count:
		return &AssertionError{
			Type:     AssertStatus,
			Expected: fmt.Sprintf("%d calls to %s", *a.Count, what),
			Actual:   fmt.Sprintf("%d calls", len(rows)),
			Trace:    trace,
		}
	case a.Count == nil && len(rows) == 0:
		return &AssertionError{
			Type:     AssertStatus,
			Expected: "a call to " + what,
			Actual:   "not found in trace",
			Trace:    trace,
		}
	}
	return nil
}

func orAny(call string) string {
	if call == "" {
		return "any call"
	}
	return call
}

func slotIndex(k *kernel.Kernel, pid, slot int) error {
	if pid < 0 || pid >= k.Config().Procs || slot < 0 || slot >= k.Config().Caps {
		return fmt.Errorf("no slot %d of pid %d", slot, pid)
	}
	return nil
}

func assertCap(a Assertion, k *kernel.Kernel) error {
	if err := slotIndex(k, *a.PID, a.Slot); err != nil {
		return err
	}
	want, _ := a.Cap.Capability()
	got, live := k.Cap(*a.PID, a.Slot)
	if !live {
		return &AssertionError{
			Type:     AssertCap,
			Expected: fmt.Sprintf("pid %d slot %d holds %v", *a.PID, a.Slot, want),
			Actual:   "empty",
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		return &AssertionError{
			Type:     AssertCap,
			Expected: fmt.Sprintf("pid %d slot %d holds %v", *a.PID, a.Slot, want),
			Actual:   fmt.Sprintf("%v (-want +got):\n%s", got, diff),
		}
	}
	return nil
}

func assertEmpty(a Assertion, k *kernel.Kernel) error {
	if err := slotIndex(k, *a.PID, a.Slot); err != nil {
		return err
	}
	if got, live := k.Cap(*a.PID, a.Slot); live {
		return &AssertionError{
			Type:     AssertEmpty,
			Expected: fmt.Sprintf("pid %d slot %d empty", *a.PID, a.Slot),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertState(a Assertion, k *kernel.Kernel) error {
	if *a.PID < 0 || *a.PID >= k.Procs().Len() {
		return fmt.Errorf("no process %d", *a.PID)
	}
	want, _ := proc.ParseState(a.State)
	if got := k.Procs().Get(*a.PID).State(); got != want {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("pid %d in %v", *a.PID, want),
			Actual:   got.String(),
		}
	}
	return nil
}

func assertSchedule(a Assertion, k *kernel.Kernel) error {
	s := k.Schedule()
	if a.Hart < 0 || a.Hart >= s.Harts() || a.Quantum >= uint64(s.Quanta()) {
		return fmt.Errorf("no quantum %d on hart %d", a.Quantum, a.Hart)
	}
	lane := s.Lane(a.Hart, a.Quantum)
	fail := func(expected string) error {
		return &AssertionError{
			Type:     AssertSchedule,
			Expected: fmt.Sprintf("hart %d quantum %d: %s", a.Hart, a.Quantum, expected),
			Actual:   lane.String(),
		}
	}
	if a.Invalid {
		if lane.Valid() {
			return fail("invalid")
		}
		return nil
	}
	switch {
	case !lane.Valid(), lane.PID() != *a.PID:
		return fail(fmt.Sprintf("pid %d", *a.PID))
	case a.Depth != nil && int(lane.Depth()) != *a.Depth:
		return fail(fmt.Sprintf("pid %d at depth %d", *a.PID, *a.Depth))
	}
	return nil
}

func assertReg(a Assertion, k *kernel.Kernel) error {
	if *a.PID < 0 || *a.PID >= k.Procs().Len() {
		return fmt.Errorf("no process %d", *a.PID)
	}
	r, _ := abi.ParseReg(a.Reg)
	if got := k.Procs().Get(*a.PID).Reg(r); got != uint64(a.Value) {
		return &AssertionError{
			Type:     AssertReg,
			Expected: fmt.Sprintf("pid %d %s = %#x", *a.PID, r, uint64(a.Value)),
			Actual:   fmt.Sprintf("%#x", got),
		}
	}
	return nil
}
