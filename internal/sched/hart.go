package sched

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/s3k/internal/clock"
	"github.com/roach88/s3k/internal/proc"
)

// Switcher runs an acquired process on a hart. Resume returns when the
// process's time slice expires, it yields, or it blocks. A non-nil error
// is fatal for the hart.
type Switcher interface {
	Resume(ctx context.Context, hart int, p *proc.Process) error
}

// SwitchHook is called after a process is acquired and before it runs,
// e.g. to load its PMP registers. An error is fatal for the hart.
type SwitchHook func(hart int, p *proc.Process) error

// Hart is one core's dispatch loop.
//
// CRITICAL: Run must be called from exactly one goroutine per hart. The
// loop owns the process it has acquired until it releases it.
type Hart struct {
	id       int
	sched    *Schedule
	procs    *proc.Table
	clock    clock.Clock
	sw       Switcher
	tpq      uint64
	slack    uint64
	onSwitch SwitchHook
	logger   *slog.Logger

	current *proc.Process
}

// HartOption configures a Hart.
type HartOption func(*Hart)

// WithSlack reserves slack ticks at the end of every time slice for the
// scheduler's own bookkeeping.
func WithSlack(slack uint64) HartOption {
	return func(h *Hart) { h.slack = slack }
}

// WithSwitchHook installs a hook run before every context switch.
func WithSwitchHook(fn SwitchHook) HartOption {
	return func(h *Hart) { h.onSwitch = fn }
}

// WithLogger sets the hart's logger.
func WithLogger(l *slog.Logger) HartOption {
	return func(h *Hart) { h.logger = l }
}

// NewHart creates the dispatch loop for hart id. ticksPerQuantum is the
// length of one quantum in clock ticks.
func NewHart(id int, s *Schedule, procs *proc.Table, c clock.Clock, sw Switcher, ticksPerQuantum uint64, opts ...HartOption) *Hart {
	h := &Hart{
		id:     id,
		sched:  s,
		procs:  procs,
		clock:  c,
		sw:     sw,
		tpq:    ticksPerQuantum,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ID returns the hart number.
func (h *Hart) ID() int { return h.id }

// Run dispatches processes until ctx is done or the switcher reports a
// fatal error. Cancellation is not an error.
//
// Each iteration:
//  1. releases the process held from the previous slice
//  2. computes the next quantum boundary
//  3. selects that quantum's owner for this hart
//  4. acquires it (SUSPENDED/READY -> RUNNING), retrying the lookup
//     until the quantum starts
//  5. programs the timeout for the whole run of identical quanta
//  6. waits for the quantum to start and switches to the process
//
// A quantum nobody can run is waited out; there is no idle state.
func (h *Hart) Run(ctx context.Context) error {
	h.logger.Info("hart starting", "hart", h.id)
	defer h.release()

	for {
		h.release()
		if ctx.Err() != nil {
			h.logger.Info("hart stopping", "hart", h.id)
			return nil
		}

		q := h.clock.Now()/h.tpq + 1
		start := q * h.tpq

		p, err := h.claim(ctx, q, start)
		if err != nil {
			return nil
		}
		if p == nil {
			if err := h.wait(ctx, start); err != nil {
				return nil
			}
			continue
		}
		pid := p.PID
		h.current = p

		length := h.sched.RunLength(h.id, q)
		p.Timeout = start + length*h.tpq - h.slack
		h.clock.SetTimeout(h.id, p.Timeout)

		if err := h.wait(ctx, start); err != nil {
			return nil
		}
		if h.onSwitch != nil {
			if err := h.onSwitch(h.id, p); err != nil {
				h.logger.Error("hart halted", "hart", h.id, "pid", pid, "error", err)
				return err
			}
		}
		h.logger.Debug("dispatch", "hart", h.id, "pid", pid, "quantum", q, "length", length)

		if err := h.sw.Resume(ctx, h.id, p); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			h.logger.Error("hart halted", "hart", h.id, "pid", pid, "error", err)
			return err
		}
	}
}

// claim selects and acquires quantum q's owner. A failed acquire is
// retried tick by tick until the quantum starts, so an owner that becomes
// ready in the meantime still gets its slice. It returns nil when the
// quantum has no runnable owner by then.
func (h *Hart) claim(ctx context.Context, q, start uint64) (*proc.Process, error) {
	for {
		pid, ok := h.sched.Select(h.id, q)
		if !ok || !h.procs.Valid(uint64(pid)) {
			return nil, nil
		}
		p := h.procs.Get(pid)
		if p.Acquire() {
			return p, nil
		}
		now := h.clock.Now()
		if now >= start {
			h.logger.Debug("acquire failed", "hart", h.id, "pid", pid, "state", p.State())
			return nil, nil
		}
		if err := h.wait(ctx, now+1); err != nil {
			return nil, err
		}
	}
}

func (h *Hart) wait(ctx context.Context, t uint64) error {
	return h.clock.WaitUntil(ctx, t)
}

func (h *Hart) release() {
	if h.current != nil {
		h.current.Release()
		h.current = nil
	}
}
