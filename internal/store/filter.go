package store

import (
	"fmt"
	"strings"
)

// Filter selects syscalls of one run. Zero fields match everything.
type Filter struct {
	RunID    string
	PIDs     []int
	Ops      []string
	Statuses []string
	Blocked  *bool
	FromSeq  int64 // inclusive
	Limit    int
}

// Compile converts f to parameterised SQL.
//
// Values are always bound as parameters, never interpolated, and every
// query orders by seq ASC, id ASC COLLATE BINARY.
func (f Filter) Compile() (string, []any, error) {
	if f.RunID == "" {
		return "", nil, fmt.Errorf("filter: run id is required")
	}
	if f.Limit < 0 {
		return "", nil, fmt.Errorf("filter: negative limit %d", f.Limit)
	}

	where := []string{"run_id = ?"}
	params := []any{f.RunID}

	in := func(column string, n int) string {
		return fmt.Sprintf("%s IN (%s)", column, strings.TrimSuffix(strings.Repeat("?, ", n), ", "))
	}
	if len(f.PIDs) > 0 {
		where = append(where, in("pid", len(f.PIDs)))
		for _, p := range f.PIDs {
			params = append(params, p)
		}
	}
	if len(f.Ops) > 0 {
		where = append(where, in("op", len(f.Ops)))
		for _, op := range f.Ops {
			params = append(params, op)
		}
	}
	if len(f.Statuses) > 0 {
		where = append(where, in("status", len(f.Statuses)))
		for _, st := range f.Statuses {
			params = append(params, st)
		}
	}
	if f.Blocked != nil {
		where = append(where, "blocked = ?")
		params = append(params, b2i(*f.Blocked))
	}
	if f.FromSeq > 0 {
		where = append(where, "seq >= ?")
		params = append(params, f.FromSeq)
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, run_id, seq, tick, hart, pid, op, args, status, results, blocked FROM syscalls WHERE ")
	sb.WriteString(strings.Join(where, " AND "))
	sb.WriteString(" ORDER BY seq ASC, id ASC COLLATE BINARY")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, f.Limit)
	}
	return sb.String(), params, nil
}
