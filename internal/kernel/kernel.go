// Package kernel is the system-call dispatcher. It ties the capability
// tree, process table, schedule and IPC layer together and implements
// every operation user programs can request.
//
// Kernel paths never return Go errors to user programs: every outcome is
// an abi.Status written to a0 of the trapping process. Go errors are
// reserved for boot failures and detected corruption.
//
// Thread-safety model:
//   - Syscall and Exception: called by the hart currently running the
//     process, so calls for one process are strictly sequential
//   - everything shared across harts goes through the lock-free cnode,
//     sched, proc and ipc primitives; the kernel itself holds no locks
package kernel

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/clock"
	"github.com/roach88/s3k/internal/cnode"
	"github.com/roach88/s3k/internal/ipc"
	"github.com/roach88/s3k/internal/proc"
	"github.com/roach88/s3k/internal/sched"
)

// Kernel is one booted system.
type Kernel struct {
	cfg    Config
	caps   *cnode.Table
	procs  *proc.Table
	sched  *sched.Schedule
	ipc    *ipc.Channels
	clock  clock.Clock
	seq    Seq
	rec    Recorder
	logger *slog.Logger
	trace  bool
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithRecorder receives an Event for every system call.
func WithRecorder(r Recorder) Option {
	return func(k *Kernel) { k.rec = r }
}

// WithClock sets the timer. Defaults to a manual clock.
func WithClock(c clock.Clock) Option {
	return func(k *Kernel) { k.clock = c }
}

// WithTracing emits an OpenTelemetry span for every system call through
// the globally installed provider.
func WithTracing() Option {
	return func(k *Kernel) { k.trace = true }
}

// Roots of the derivation lists. Each hart's time, each memory region,
// all channels and all supervision derive from their own sentinel.
func (k *Kernel) timeRoot(hart int) int { return k.caps.Root(hart) }
func (k *Kernel) memoryRoot(i int) int  { return k.caps.Root(k.cfg.Harts + i) }
func (k *Kernel) channelsRoot() int     { return k.caps.Root(k.cfg.Harts + len(k.cfg.Memory)) }
func (k *Kernel) supervisorRoot() int   { return k.caps.Root(k.cfg.Harts + len(k.cfg.Memory) + 1) }

// New boots a kernel.
//
// Process 0 receives, in slot order: one time capability per hart covering
// the whole frame at depth 0, one memory capability per region, all
// channels, and supervision of every process. It owns every quantum of
// every hart. All other processes start halted with empty tables.
func New(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:    cfg,
		caps:   cnode.New(cfg.Procs, cfg.Caps, cfg.NRoots()),
		procs:  proc.NewTable(cfg.Procs),
		sched:  sched.New(cfg.Harts, cfg.Quanta),
		rec:    discard{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.clock == nil {
		k.clock = clock.NewManual(cfg.Harts)
	}
	k.ipc = ipc.New(ipc.NewRegistry(cfg.Channels), k.procs, k)

	slot := 0
	boot := func(c capability.Capability, root int) {
		k.caps.Insert(c, k.caps.Index(0, slot), root)
		slot++
	}
	for h := 0; h < cfg.Harts; h++ {
		boot(capability.Time{Hart: uint8(h), Begin: 0, End: uint16(cfg.Quanta), Free: 0, Depth: 0}, k.timeRoot(h))
	}
	for i, r := range cfg.Memory {
		boot(capability.Memory{Begin: r.Begin, End: r.End, Free: r.Begin, RWX: r.RWX}, k.memoryRoot(i))
	}
	boot(capability.Channels{Begin: 0, End: uint16(cfg.Channels), Free: 0}, k.channelsRoot())
	boot(capability.Supervisor{Begin: 0, End: uint8(cfg.Procs), Free: 0}, k.supervisorRoot())

	k.logger.Info("kernel booted",
		"harts", cfg.Harts, "procs", cfg.Procs, "caps", cfg.Caps,
		"quanta", cfg.Quanta, "channels", cfg.Channels, "regions", len(cfg.Memory))
	return k, nil
}

// Config returns the boot configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Caps returns the capability table.
func (k *Kernel) Caps() *cnode.Table { return k.caps }

// Procs returns the process table.
func (k *Kernel) Procs() *proc.Table { return k.procs }

// Schedule returns the schedule.
func (k *Kernel) Schedule() *sched.Schedule { return k.sched }

// Clock returns the timer.
func (k *Kernel) Clock() clock.Clock { return k.clock }

// Registry returns the channel listener registry.
func (k *Kernel) Registry() *ipc.Registry { return k.ipc.Registry() }

// Cap returns the capability in slot of process pid.
func (k *Kernel) Cap(pid, slot int) (capability.Capability, bool) {
	return k.caps.Get(k.caps.Index(pid, slot))
}

// Run starts one dispatch loop per hart and blocks until ctx is done or a
// hart stops on an error, which is returned.
func (k *Kernel) Run(ctx context.Context, sw sched.Switcher) error {
	g, ctx := errgroup.WithContext(ctx)
	for h := 0; h < k.cfg.Harts; h++ {
		hart := sched.NewHart(h, k.sched, k.procs, k.clock, sw, k.cfg.TicksPerQuantum,
			sched.WithSlack(k.cfg.SlackTicks),
			sched.WithSwitchHook(k.LoadPMP),
			sched.WithLogger(k.logger))
		g.Go(func() error {
			return hart.Run(ctx)
		})
	}
	return g.Wait()
}
