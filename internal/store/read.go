package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoRuns is returned by LatestRun on an empty log.
var ErrNoRuns = errors.New("audit log has no runs")

// ReadBoots returns every run, oldest first.
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ReadBoots(ctx context.Context) ([]Boot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_hash, config, started_at, version
		FROM boots
		ORDER BY started_at ASC, id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query boots: %w", err)
	}
	defer rows.Close()

	boots := []Boot{}
	for rows.Next() {
		var b Boot
		if err := rows.Scan(&b.ID, &b.ConfigHash, &b.Config, &b.StartedAt, &b.Version); err != nil {
			return nil, fmt.Errorf("scan boot: %w", err)
		}
		boots = append(boots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boots: %w", err)
	}
	return boots, nil
}

// ReadBoot returns the run with the given id.
func (s *Store) ReadBoot(ctx context.Context, id string) (Boot, error) {
	var b Boot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, config_hash, config, started_at, version
		FROM boots WHERE id = ?
	`, id).Scan(&b.ID, &b.ConfigHash, &b.Config, &b.StartedAt, &b.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Boot{}, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return Boot{}, fmt.Errorf("read boot: %w", err)
	}
	return b, nil
}

// LatestRun returns the id of the most recent run. UUIDv7 ids sort by
// creation time.
func (s *Store) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM boots ORDER BY id DESC COLLATE BINARY LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRuns
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

// ReadSyscalls returns the syscalls matching f in seq order.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadSyscalls(ctx context.Context, f Filter) ([]Syscall, error) {
	query, params, err := f.Compile()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query syscalls: %w", err)
	}
	defer rows.Close()

	calls := []Syscall{}
	for rows.Next() {
		c, err := scanSyscall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate syscalls: %w", err)
	}
	return calls, nil
}

// CountSyscalls returns the number of syscalls recorded for a run.
func (s *Store) CountSyscalls(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM syscalls WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count syscalls: %w", err)
	}
	return n, nil
}

func scanSyscall(rows *sql.Rows) (Syscall, error) {
	var (
		c       Syscall
		tick    int64
		args    string
		results string
		blocked int
	)
	if err := rows.Scan(&c.ID, &c.RunID, &c.Seq, &tick, &c.Hart, &c.PID, &c.Op,
		&args, &c.Status, &results, &blocked); err != nil {
		return Syscall{}, fmt.Errorf("scan syscall: %w", err)
	}
	c.Tick = uint64(tick)
	c.Blocked = blocked == 1

	var err error
	if c.Args, err = unmarshalWords(args); err != nil {
		return Syscall{}, err
	}
	if c.Results, err = unmarshalWords(results); err != nil {
		return Syscall{}, err
	}
	return c, nil
}
