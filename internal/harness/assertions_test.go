package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every assertion below is false after the flow.
const failingAssertions = `
name: failing_assertions
board: {procs: 2, quanta: 4, channels: 2}
flow:
  - call: derive_cap
    args: [0, 4]
    cap: {type: time, begin: 0, end: 2, depth: 1}
    expect: {status: OK}
  - call: read_cap
    args: [9]
    expect: {status: EMPTY}
assertions:
  - type: status
    call: read_cap
    status: OK
  - type: status
    status: EMPTY
    count: 2
  - type: cap
    pid: 0
    slot: 4
    cap: {type: time, begin: 0, end: 2, depth: 2}
  - type: cap
    pid: 0
    slot: 5
    cap: {type: receiver, channel: 0}
  - type: empty
    pid: 0
    slot: 0
  - type: state
    pid: 1
    state: READY
  - type: schedule
    quantum: 0
    pid: 1
  - type: schedule
    quantum: 1
    pid: 0
    depth: 0
  - type: schedule
    quantum: 3
    invalid: true
  - type: reg
    pid: 0
    reg: pc
    value: 4
`

func TestEvaluateAssertions_Failures(t *testing.T) {
	result, err := Run(mustParse(t, failingAssertions))
	require.NoError(t, err)
	assert.False(t, result.Pass)

	want := []string{
		"assertions[0]: Assertion failed: status",
		"assertions[1]: Assertion failed: status",
		"assertions[2]: Assertion failed: cap",
		"assertions[3]: Assertion failed: cap",
		"assertions[4]: Assertion failed: empty",
		"assertions[5]: Assertion failed: state",
		"assertions[6]: Assertion failed: schedule",
		"assertions[7]: Assertion failed: schedule",
		"assertions[8]: Assertion failed: schedule",
		"assertions[9]: Assertion failed: reg",
	}
	require.Len(t, result.Errors, len(want), "errors:\n%s", strings.Join(result.Errors, "\n"))
	for i, prefix := range want {
		assert.True(t, strings.HasPrefix(result.Errors[i], prefix), "error %d: %s", i, result.Errors[i])
	}

	assert.Contains(t, result.Errors[0], "not found in trace")
	assert.Contains(t, result.Errors[1], "Actual: 1 calls")
	assert.Contains(t, result.Errors[3], "Actual: empty")
	assert.Contains(t, result.Errors[5], "Actual: HALTED")
	assert.Contains(t, result.Errors[9], "Actual: 0x8")
	assert.Contains(t, result.Errors[0], "Full trace:", "status failures carry the trace")
}

func TestEvaluateAssertions_OutOfRange(t *testing.T) {
	result, err := Run(mustParse(t, `
name: out_of_range
board: {procs: 1, quanta: 2, caps: 8}
flow:
  - call: yield
assertions:
  - type: empty
    pid: 0
    slot: 8
  - type: state
    pid: 3
    state: READY
  - type: schedule
    quantum: 2
    pid: 0
  - type: reg
    pid: -1
    reg: a0
    value: 0
`))
	require.NoError(t, err)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "no slot 8 of pid 0")
	assert.Contains(t, result.Errors[1], "no process 3")
	assert.Contains(t, result.Errors[2], "no quantum 2 on hart 0")
	assert.Contains(t, result.Errors[3], "no process -1")
}

func TestAssertionError_Error(t *testing.T) {
	err := &AssertionError{
		Type:     AssertStatus,
		Expected: "a call to yield returning OK",
		Actual:   "not found in trace",
		Trace: []TraceEvent{
			{Seq: 1, PID: 0, Call: "get_pid", Args: []uint64{0}, Status: "OK"},
			{Seq: 2, PID: 1, Call: "invoke_cap", Args: []uint64{0}, Blocked: true},
		},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: status\n")
	assert.Contains(t, msg, "  Expected: a call to yield returning OK\n")
	assert.Contains(t, msg, "  [1] pid 0 get_pid [0] -> OK\n")
	assert.Contains(t, msg, "  [2] pid 1 invoke_cap [0] -> blocked\n")
}
