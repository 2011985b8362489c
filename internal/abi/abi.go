// Package abi holds the numbers shared between the kernel and user
// programs: status codes, system-call selectors, register indices and
// invoke sub-operations. They are stable within one build.
package abi

import "fmt"

// Status is the result code a system call leaves in a0.
type Status uint64

const (
	OK Status = iota
	Error
	Empty
	Collision
	IllegalDerivation
	NoReceiver
	SuperviseeBusy
	Unimplemented
	Failed
	Interrupted
)

var statusNames = [...]string{
	OK:                "OK",
	Error:             "ERROR",
	Empty:             "EMPTY",
	Collision:         "COLLISION",
	IllegalDerivation: "ILLEGAL_DERIVATION",
	NoReceiver:        "NO_RECEIVER",
	SuperviseeBusy:    "SUPERVISEE_BUSY",
	Unimplemented:     "UNIMPLEMENTED",
	Failed:            "FAILED",
	Interrupted:       "INTERRUPTED",
}

func (s Status) String() string {
	if s < Status(len(statusNames)) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint64(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), true
		}
	}
	return 0, false
}

// Call selects a system call; it is passed in t0.
type Call uint64

const (
	GetPID Call = iota
	ReadReg
	WriteReg
	Yield
	ReadCap
	MoveCap
	DeleteCap
	RevokeCap
	DeriveCap
	InvokeCap
)

var callNames = [...]string{
	GetPID:    "get_pid",
	ReadReg:   "read_reg",
	WriteReg:  "write_reg",
	Yield:     "yield",
	ReadCap:   "read_cap",
	MoveCap:   "move_cap",
	DeleteCap: "delete_cap",
	RevokeCap: "revoke_cap",
	DeriveCap: "derive_cap",
	InvokeCap: "invoke_cap",
}

func (c Call) String() string {
	if c < Call(len(callNames)) {
		return callNames[c]
	}
	return fmt.Sprintf("Call(%d)", uint64(c))
}

// ParseCall is the inverse of Call.String.
func ParseCall(s string) (Call, bool) {
	for i, name := range callNames {
		if name == s {
			return Call(i), true
		}
	}
	return 0, false
}

// NoSlot in a capability-slot argument means "no capability".
const NoSlot = ^uint64(0)

// Invoke sub-operations, selected by a1 of invoke_cap. The meaning of a
// number depends on the type of the invoked capability.
const (
	// Memory, time and channels.
	OpSlice = 0
	OpSplit = 1

	// PMP.
	OpLoad   = 0
	OpUnload = 1

	// Receiver and sender.
	OpRecv = 0
	OpSend = 0

	// Supervisor.
	OpSuspend  = 0
	OpResume   = 1
	OpGetState = 2
	OpReadReg  = 3
	OpWriteReg = 4
	OpReadCap  = 5
	OpGiveCap  = 6
	OpTakeCap  = 7
)
