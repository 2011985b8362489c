package harness

import (
	"github.com/roach88/s3k/internal/kernel"
	"github.com/roach88/s3k/internal/store"
)

// TraceEvent is one recorded system call.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	Hart    int      `json:"hart"`
	PID     int      `json:"pid"`
	Call    string   `json:"call"`
	Args    []uint64 `json:"args"`
	Status  string   `json:"status,omitempty"`
	Results []uint64 `json:"results,omitempty"`
	Blocked bool     `json:"blocked,omitempty"`
}

func traceEvent(row store.Syscall) TraceEvent {
	return TraceEvent{
		Seq:     row.Seq,
		Hart:    row.Hart,
		PID:     row.PID,
		Call:    row.Op,
		Args:    row.Args,
		Status:  row.Status,
		Results: row.Results,
		Blocked: row.Blocked,
	}
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held and the
	// kernel's invariant check passed.
	Pass bool `json:"pass"`

	// Trace contains every system call in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains one message per failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	// RunID is the audit run the trace was recorded under.
	RunID string `json:"run_id"`

	// Kernel is the final kernel state, for inspection.
	Kernel *kernel.Kernel `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
