package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // defaults to the latest run
	PIDs     []int
	Ops      []string
	Statuses []string
	Blocked  bool
	Limit    int
	Runs     bool // list runs instead of syscalls
}

// TraceEvent is one system call in the trace output.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	Tick    uint64   `json:"tick"`
	Hart    int      `json:"hart"`
	PID     int      `json:"pid"`
	Op      string   `json:"op"`
	Args    []uint64 `json:"args"`
	Status  string   `json:"status,omitempty"`
	Results []uint64 `json:"results,omitempty"`
	Blocked bool     `json:"blocked,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID      string       `json:"run_id"`
	ConfigHash string       `json:"config_hash"`
	Version    string       `json:"version"`
	Events     []TraceEvent `json:"events"`
	Stats      TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the selected events.
type TraceStats struct {
	Total    int            `json:"total"`
	Blocked  int            `json:"blocked"`
	ByStatus map[string]int `json:"by_status"`
}

// RunInfo is one line of the run listing.
type RunInfo struct {
	RunID      string `json:"run_id"`
	ConfigHash string `json:"config_hash"`
	Version    string `json:"version"`
	StartedAt  int64  `json:"started_at"`
	Syscalls   int    `json:"syscalls"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the system calls of an audited run",
		Long: `Query the audit database written by "s3k run --db".

Shows the system calls of one run in sequence order, optionally
filtered by process, call, status or blocking. Without --run the most
recent run is shown. --runs lists the recorded runs instead.

Examples:
  s3k trace --db ./s3k.db
  s3k trace --db ./s3k.db --run 0190... --pid 1 --op invoke_cap
  s3k trace --db ./s3k.db --status NO_RECEIVER --status SUPERVISEE_BUSY
  s3k trace --db ./s3k.db --runs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (defaults to the latest run)")
	cmd.Flags().IntSliceVar(&opts.PIDs, "pid", nil, "only calls made by these pids")
	cmd.Flags().StringSliceVar(&opts.Ops, "op", nil, "only these calls, e.g. invoke_cap")
	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "only calls returning these statuses, e.g. OK")
	cmd.Flags().BoolVar(&opts.Blocked, "blocked", false, "only calls that blocked")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "at most this many calls (0 for all)")
	cmd.Flags().BoolVar(&opts.Runs, "runs", false, "list runs")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	for _, op := range opts.Ops {
		if _, ok := abi.ParseCall(op); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown call %q", op))
		}
	}
	for _, st := range opts.Statuses {
		if _, ok := abi.ParseStatus(st); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown status %q", st))
		}
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--limit must not be negative, got %d", opts.Limit))
	}

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database, store.ReadOnly())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Runs {
		return listRuns(ctx, st, formatter)
	}

	runID := opts.RunID
	if runID == "" {
		runID, err = st.LatestRun(ctx)
		if errors.Is(err, store.ErrNoRuns) {
			_ = formatter.Error(ErrCodeStore, "no runs recorded", opts.Database)
			return WrapExitError(ExitCommandError, "no runs recorded", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find latest run", err)
		}
	}
	boot, err := st.ReadBoot(ctx, runID)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	f := store.Filter{
		RunID:    runID,
		PIDs:     opts.PIDs,
		Ops:      opts.Ops,
		Statuses: opts.Statuses,
		Limit:    opts.Limit,
	}
	if opts.Blocked {
		blocked := true
		f.Blocked = &blocked
	}
	calls, err := st.ReadSyscalls(ctx, f)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read syscalls", err)
	}

	result := TraceResult{
		RunID:      boot.ID,
		ConfigHash: boot.ConfigHash,
		Version:    boot.Version,
		Events:     make([]TraceEvent, 0, len(calls)),
		Stats:      TraceStats{ByStatus: map[string]int{}},
	}
	for _, c := range calls {
		result.Events = append(result.Events, TraceEvent{
			Seq:     c.Seq,
			Tick:    c.Tick,
			Hart:    c.Hart,
			PID:     c.PID,
			Op:      c.Op,
			Args:    c.Args,
			Status:  c.Status,
			Results: c.Results,
			Blocked: c.Blocked,
		})
		result.Stats.Total++
		if c.Blocked {
			result.Stats.Blocked++
		} else {
			result.Stats.ByStatus[c.Status]++
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputTraceText(formatter, result)
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	boots, err := st.ReadBoots(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	runs := make([]RunInfo, 0, len(boots))
	for _, b := range boots {
		n, err := st.CountSyscalls(ctx, b.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count syscalls", err)
		}
		runs = append(runs, RunInfo{
			RunID:      b.ID,
			ConfigHash: b.ConfigHash,
			Version:    b.Version,
			StartedAt:  b.StartedAt,
			Syscalls:   n,
		})
	}

	if formatter.JSON() {
		return formatter.Success(runs)
	}
	w := formatter.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  config %s  %s  %d calls\n", r.RunID, shortHash(r.ConfigHash), r.Version, r.Syscalls)
	}
	return nil
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) error {
	w := formatter.Writer
	fmt.Fprintf(w, "Run %s (config %s, version %s)\n", result.RunID, shortHash(result.ConfigHash), result.Version)
	if len(result.Events) == 0 {
		fmt.Fprintln(w, "No matching system calls.")
		return nil
	}
	fmt.Fprintln(w)
	for _, e := range result.Events {
		outcome := e.Status
		if e.Blocked {
			outcome = "blocked"
		}
		fmt.Fprintf(w, "  #%-5d t=%-8d hart %d  pid %-3d %-10s %s -> %s\n",
			e.Seq, e.Tick, e.Hart, e.PID, e.Op, formatWords(e.Args), outcome)
		if formatter.Verbose && !e.Blocked {
			fmt.Fprintf(w, "         results %s\n", formatWords(e.Results))
		}
	}

	fmt.Fprintln(w)
	statuses := make([]string, 0, len(result.Stats.ByStatus))
	for s := range result.Stats.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses)+1)
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s %d", s, result.Stats.ByStatus[s]))
	}
	if result.Stats.Blocked > 0 {
		parts = append(parts, fmt.Sprintf("blocked %d", result.Stats.Blocked))
	}
	fmt.Fprintf(w, "%d calls: %s\n", result.Stats.Total, strings.Join(parts, ", "))
	return nil
}

// formatWords prints register words in hex, dropping trailing zeros.
func formatWords(words []uint64) string {
	n := len(words)
	for n > 0 && words[n-1] == 0 {
		n--
	}
	parts := make([]string, n)
	for i, w := range words[:n] {
		if w == abi.NoSlot {
			parts[i] = "none"
		} else {
			parts[i] = fmt.Sprintf("%#x", w)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
