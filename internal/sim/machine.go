package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/s3k/internal/clock"
	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/proc"
)

// Program is the user code of one process. It returns when the process
// exits.
type Program func(u *User)

// Machine is a kernel plus the goroutines running its programs. It
// implements sched.Switcher.
//
// Thread-safety: Run may be called once at a time. Resume is called by
// the harts.
type Machine struct {
	k       *kernel.Kernel
	clock   *horizon
	threads []*thread
	logger  *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type options struct {
	clock  clock.Clock
	logger *slog.Logger
	kopts  []kernel.Option
}

// Option configures a Machine.
type Option func(*options)

// WithClock sets the clock. Defaults to a virtual clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger for the machine, its programs and the kernel.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKernelOptions passes options through to kernel.New.
func WithKernelOptions(opts ...kernel.Option) Option {
	return func(o *options) { o.kopts = append(o.kopts, opts...) }
}

// Boot creates a kernel for kc and a machine that runs programs on it,
// keyed by pid. Processes without a program idle out their slices.
func Boot(kc kernel.Config, programs map[int]Program, opts ...Option) (*Machine, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.NewVirtual(kc.Harts)
	}
	for pid := range programs {
		if pid < 0 || pid >= kc.Procs {
			return nil, fmt.Errorf("program for pid %d: only %d processes", pid, kc.Procs)
		}
	}

	m := &Machine{
		clock:   &horizon{Clock: o.clock},
		threads: make([]*thread, kc.Procs),
		logger:  o.logger,
		stop:    make(chan struct{}),
	}
	kopts := append([]kernel.Option{kernel.WithLogger(o.logger)}, o.kopts...)
	kopts = append(kopts, kernel.WithClock(m.clock))
	k, err := kernel.New(kc, kopts...)
	if err != nil {
		return nil, err
	}
	m.k = k

	for pid, prog := range programs {
		m.threads[pid] = newThread(m, k.Procs().Get(pid), prog)
	}
	return m, nil
}

// Kernel returns the kernel the machine runs on.
func (m *Machine) Kernel() *kernel.Kernel { return m.k }

// Run runs the kernel until ctx is done, a hart fails, or the clock
// reaches until. until == 0 means no limit.
func (m *Machine) Run(ctx context.Context, until uint64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if until > 0 {
		m.clock.arm(until, cancel)
		defer m.clock.disarm()
	}
	m.logger.Info("machine starting", "until", until)
	err := m.k.Run(ctx, m)
	m.logger.Info("machine stopped", "now", m.clock.Now())
	return err
}

// Close stops every program goroutine and waits for them to exit. The
// machine cannot run again afterwards.
func (m *Machine) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Resume implements sched.Switcher: it runs p until its slice ends, it
// yields or blocks, or its program exits.
func (m *Machine) Resume(ctx context.Context, hart int, p *proc.Process) error {
	t := m.threads[p.PID]
	if t == nil {
		return m.clock.WaitUntil(ctx, p.Timeout)
	}
	if t.exited {
		p.RequestHalt()
		return nil
	}

	if t.compute > 0 {
		done, err := m.computeFor(ctx, hart, p, t)
		if err != nil || !done {
			return err
		}
	}
	t.dispatch()

	for {
		var r request
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			t.exited = true
			if t.err != nil {
				return fmt.Errorf("pid %d: %w", p.PID, t.err)
			}
			m.logger.Debug("program exited", "pid", p.PID)
			p.RequestHalt()
			return nil
		case r = <-t.req:
		}

		switch r.kind {
		case trapSyscall:
			t.action = m.k.Syscall(ctx, hart, p)
		case trapFault:
			t.action = m.k.Exception(ctx, hart, p, r.cause, r.tval)
		case trapCompute:
			t.action = kernel.Continue
			t.compute = r.ticks
			done, err := m.computeFor(ctx, hart, p, t)
			if err != nil || !done {
				return err
			}
		}
		if t.action == kernel.Yield || clock.Expired(m.clock, hart) {
			return nil
		}
		t.wake()
	}
}

// computeFor advances the clock through t's pending computation, stopping
// at p's timeout. done reports whether the computation finished.
func (m *Machine) computeFor(ctx context.Context, hart int, p *proc.Process, t *thread) (done bool, err error) {
	now := m.clock.Now()
	end := now + t.compute
	if end > p.Timeout {
		end = p.Timeout
	}
	if err := m.clock.WaitUntil(ctx, end); err != nil {
		return false, err
	}
	if spent := m.clock.Now() - now; spent < t.compute {
		t.compute -= spent
	} else {
		t.compute = 0
	}
	return t.compute == 0 && !clock.Expired(m.clock, hart), nil
}
