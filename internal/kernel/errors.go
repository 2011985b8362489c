package kernel

import (
	"errors"
	"fmt"
)

// Error is a Go-level kernel error. User-caused failures never produce an
// Error; they are reported to the trapping process as an abi.Status.
//
// Errors with an invariant code mean the capability tree or scheduler
// state is corrupt. The hart that detects one stops rather than keep
// operating on it.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Node is the capability node involved, or -1.
	Node int

	// PID is the process involved, or -1.
	PID int
}

// ErrorCode categorizes kernel errors.
type ErrorCode string

const (
	// ErrCodeBadConfig indicates a board configuration the kernel cannot boot.
	ErrCodeBadConfig ErrorCode = "BAD_CONFIG"

	// ErrCodeTreeCorrupt indicates a live node that is not a descendant of
	// every node on its ancestor chain.
	ErrCodeTreeCorrupt ErrorCode = "TREE_CORRUPT"

	// ErrCodeRangeCorrupt indicates a range capability violating
	// begin <= free <= end.
	ErrCodeRangeCorrupt ErrorCode = "RANGE_CORRUPT"

	// ErrCodeHiddenSlot indicates a hidden PMP slot holding something other
	// than the loaded region it should.
	ErrCodeHiddenSlot ErrorCode = "HIDDEN_SLOT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.PID >= 0 && e.Node >= 0:
		return fmt.Sprintf("%s: %s (pid=%d, node=%d)", e.Code, e.Message, e.PID, e.Node)
	case e.Node >= 0:
		return fmt.Sprintf("%s: %s (node=%d)", e.Code, e.Message, e.Node)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsInvariantError returns true if err reports corrupted kernel state.
// Uses errors.As to handle wrapped errors.
func IsInvariantError(err error) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code != ErrCodeBadConfig
	}
	return false
}

// IsConfigError returns true if err reports an unbootable configuration.
func IsConfigError(err error) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code == ErrCodeBadConfig
	}
	return false
}

func configError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeBadConfig, Message: fmt.Sprintf(format, args...), Node: -1, PID: -1}
}

func invariantError(code ErrorCode, node, pid int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Node: node, PID: pid}
}
