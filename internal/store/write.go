package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/s3k/internal/canon"
)

// SyscallID computes the content-addressed id of a run's seq'th syscall.
func SyscallID(runID string, seq int64) (string, error) {
	return canon.Hash(canon.DomainEvent, canon.Object{"run_id": runID, "seq": seq})
}

// WriteBoot records the start of a run.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteBoot(ctx context.Context, b Boot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boots (id, config_hash, config, started_at, version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, b.ID, b.ConfigHash, b.Config, b.StartedAt, b.Version)
	if err != nil {
		return fmt.Errorf("write boot: %w", err)
	}
	return nil
}

// WriteSyscalls appends a batch of syscalls in one transaction. Rows whose
// (run_id, seq) already exist are skipped, so a batch can be retried.
// The boot the rows belong to must exist.
func (s *Store) WriteSyscalls(ctx context.Context, calls []Syscall) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write syscalls: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO syscalls
		(id, run_id, seq, tick, hart, pid, op, args, status, results, blocked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write syscalls: %w", err)
	}
	defer stmt.Close()

	for _, c := range calls {
		if err := insertSyscall(ctx, stmt, c); err != nil {
			return fmt.Errorf("write syscall %s#%d: %w", c.RunID, c.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write syscalls: %w", err)
	}
	return nil
}

// WriteSyscall appends a single syscall.
func (s *Store) WriteSyscall(ctx context.Context, c Syscall) error {
	return s.WriteSyscalls(ctx, []Syscall{c})
}

func insertSyscall(ctx context.Context, stmt *sql.Stmt, c Syscall) error {
	id := c.ID
	if id == "" {
		var err error
		if id, err = SyscallID(c.RunID, c.Seq); err != nil {
			return err
		}
	}
	args, err := marshalWords(c.Args)
	if err != nil {
		return err
	}
	results, err := marshalWords(c.Results)
	if err != nil {
		return err
	}
	// tick is stored signed; a run would need 2^63 ticks to overflow.
	_, err = stmt.ExecContext(ctx, id, c.RunID, c.Seq, int64(c.Tick), c.Hart, c.PID, c.Op,
		args, c.Status, results, b2i(c.Blocked))
	return err
}
