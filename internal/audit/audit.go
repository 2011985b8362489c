// Package audit persists a kernel run's syscall events to the store.
//
// Log implements kernel.Recorder. Record only appends to an in-memory
// queue and never blocks; a single writer goroutine drains it in batches
// into SQLite.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/store"
)

// DefaultBatch is the largest number of events written per transaction.
const DefaultBatch = 512

// Log is an open audit log for one run.
type Log struct {
	store  *store.Store
	runID  string
	q      *queue
	batch  int
	logger *slog.Logger
	done   chan struct{}
	err    error
	drops  atomic.Int64
}

// Option configures a Log.
type Option func(*Log)

// WithBatch sets the write batch size.
func WithBatch(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.batch = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(l *Log) { l.logger = lg }
}

// Boot describes the run being recorded.
type Boot struct {
	ConfigHash string
	Config     string // canonical JSON
	Version    string
}

// Start records a new run and starts the writer. The run id comes from
// ids. Close must be called to flush and stop the writer.
func Start(ctx context.Context, st *store.Store, ids RunIDGenerator, b Boot, opts ...Option) (*Log, error) {
	l := &Log{
		store:  st,
		runID:  ids.Generate(),
		q:      newQueue(),
		batch:  DefaultBatch,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	err := st.WriteBoot(ctx, store.Boot{
		ID:         l.runID,
		ConfigHash: b.ConfigHash,
		Config:     b.Config,
		StartedAt:  time.Now().UnixNano(),
		Version:    b.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("start audit log: %w", err)
	}

	go l.write()
	l.logger.Info("audit log started", "run_id", l.runID)
	return l, nil
}

// RunID returns the id of the run being recorded.
func (l *Log) RunID() string { return l.runID }

// Record implements kernel.Recorder. It never blocks.
func (l *Log) Record(e kernel.Event) {
	if !l.q.Enqueue(e) {
		l.drops.Add(1)
	}
}

// Close flushes every recorded event and stops the writer. It returns the
// first write error, if any.
func (l *Log) Close() error {
	l.q.Close()
	<-l.done
	if n := l.drops.Load(); n > 0 {
		l.logger.Warn("events recorded after close were dropped", "run_id", l.runID, "count", n)
	}
	return l.err
}

// write drains the queue until it is closed and empty. It stops only
// through Close, so every event recorded before Close is written.
func (l *Log) write() {
	defer close(l.done)
	ctx := context.Background()
	for {
		events := l.q.Drain(l.batch)
		if len(events) == 0 {
			if l.q.Closed() {
				return
			}
			<-l.q.Wait()
			continue
		}
		if l.err != nil {
			continue
		}
		if err := l.store.WriteSyscalls(ctx, l.rows(events)); err != nil {
			l.err = err
			l.logger.Error("audit write failed", "run_id", l.runID, "error", err)
		}
	}
}

func (l *Log) rows(events []kernel.Event) []store.Syscall {
	rows := make([]store.Syscall, len(events))
	for i, e := range events {
		rows[i] = Row(l.runID, e)
	}
	return rows
}

// Row converts a kernel event to its stored form.
func Row(runID string, e kernel.Event) store.Syscall {
	row := store.Syscall{
		RunID:   runID,
		Seq:     e.Seq,
		Tick:    e.Tick,
		Hart:    e.Hart,
		PID:     e.PID,
		Op:      e.Call.String(),
		Args:    e.Args[:],
		Blocked: e.Blocked,
	}
	if !e.Blocked {
		row.Status = e.Status.String()
		row.Results = e.Results[:]
	}
	return row
}
