package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/s3k/internal/audit"
	"github.com/roach88/s3k/internal/clock"
	"github.com/roach88/s3k/internal/config"
	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/sim"
	"github.com/roach88/s3k/internal/store"
	"github.com/roach88/s3k/internal/tracing"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string
	Frames   int
	TraceOut string
	Realtime bool

	// RunIDs allows overriding the audit run id generator (for testing).
	// If nil, defaults to audit.UUIDv7Generator.
	RunIDs audit.RunIDGenerator
}

// RunSummary is printed when a run ends.
type RunSummary struct {
	RunID    string            `json:"run_id,omitempty"`
	Ticks    uint64            `json:"ticks"`
	Syscalls int               `json:"syscalls"`
	States   map[string]string `json:"states"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot a board and run its programs",
		Long: `Boot the kernel described by a board file and run the board's programs
on the simulator, one dispatch loop per hart.

The run stops after --frames major frames of simulated time, or on
Ctrl-C. With --realtime ticks follow the wall clock at the board's tick
length instead of jumping ahead. Every system call is recorded in the
audit database when --db is given.

Example:
  s3k run --config board.yaml --frames 100
  s3k run --config board.yaml --db ./s3k.db --trace-out spans.json --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoard(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to board file (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database")
	cmd.Flags().IntVar(&opts.Frames, "frames", 10, "major frames to run (0 runs until interrupted)")
	cmd.Flags().StringVar(&opts.TraceOut, "trace-out", "", "write OpenTelemetry spans, one per system call, to this file")
	cmd.Flags().BoolVar(&opts.Realtime, "realtime", false, "pace ticks by the wall clock")

	return cmd
}

func runBoard(opts *RunOptions, cmd *cobra.Command) error {
	if opts.Frames < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--frames must not be negative, got %d", opts.Frames))
	}
	if opts.Frames == 0 && !opts.Realtime {
		return NewExitError(ExitCommandError, "--frames 0 needs --realtime; simulated time would never stop")
	}
	logger := newLogger(opts.RootOptions)

	b, err := config.LoadFile(opts.Config)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid board", err)
	}
	kc, err := b.Kernel()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid board", err)
	}
	programs, err := sim.Programs(b)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid programs", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var kopts []kernel.Option
	var st *store.Store
	var auditLog *audit.Log
	if opts.Database != "" {
		logger.Info("opening database", "path", opts.Database)
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()

		hash, err := b.Hash()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to hash board", err)
		}
		canonical, err := b.Canonical()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode board", err)
		}
		ids := opts.RunIDs
		if ids == nil {
			ids = audit.UUIDv7Generator{}
		}
		auditLog, err = audit.Start(ctx, st, ids,
			audit.Boot{ConfigHash: hash, Config: string(canonical), Version: Version},
			audit.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start audit log", err)
		}
		defer auditLog.Close()
		kopts = append(kopts, kernel.WithRecorder(auditLog))
	}

	if opts.TraceOut != "" {
		shutdown, err := tracing.Init("s3k", Version, opts.TraceOut)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace output", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("error flushing spans", "error", err)
			}
		}()
		kopts = append(kopts, kernel.WithTracing())
	}

	simOpts := []sim.Option{sim.WithLogger(logger), sim.WithKernelOptions(kopts...)}
	if opts.Realtime {
		tick, err := b.TickDuration()
		if err != nil {
			return WrapExitError(ExitFailure, "invalid board", err)
		}
		simOpts = append(simOpts, sim.WithClock(clock.NewWall(kc.Harts, tick)))
	}
	m, err := sim.Boot(kc, programs, simOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to boot", err)
	}
	defer m.Close()

	until := uint64(opts.Frames) * uint64(kc.Quanta) * kc.TicksPerQuantum
	logger.Info("kernel starting", "config", opts.Config, "frames", opts.Frames, "until", until)
	runErr := m.Run(ctx, until)
	m.Close()

	summary := RunSummary{Ticks: m.Kernel().Clock().Now(), States: map[string]string{}}
	for pid := 0; pid < kc.Procs; pid++ {
		summary.States[fmt.Sprint(pid)] = m.Kernel().Procs().Get(pid).State().String()
	}
	if auditLog != nil {
		summary.RunID = auditLog.RunID()
		if err := auditLog.Close(); err != nil {
			return WrapExitError(ExitCommandError, "failed to flush audit log", err)
		}
		n, err := st.CountSyscalls(context.Background(), summary.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count syscalls", err)
		}
		summary.Syscalls = n
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitFailure, "kernel stopped", runErr)
	}
	if err := m.Kernel().Check(); err != nil {
		logger.Error("invariant check failed", "error", err)
		return WrapExitError(ExitFailure, "invariant check failed", err)
	}
	logger.Debug("run finished", "ticks", summary.Ticks)
	return outputRunSummary(cmd, opts, summary)
}

func outputRunSummary(cmd *cobra.Command, opts *RunOptions, s RunSummary) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if formatter.JSON() {
		return formatter.Success(s)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Stopped at tick %d.\n", s.Ticks)
	if s.RunID != "" {
		fmt.Fprintf(w, "Run %s: %d system calls recorded.\n", s.RunID, s.Syscalls)
	}
	for pid := 0; pid < len(s.States); pid++ {
		fmt.Fprintf(w, "  pid %d: %s\n", pid, s.States[fmt.Sprint(pid)])
	}
	return nil
}
