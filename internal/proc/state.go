package proc

import "fmt"

// State is a process state word. The base state occupies bits 0..7, bit 8
// is the halt flag and bits 32..47 carry the channel of WAITING and
// RECEIVING.
//
// SUSPENDED with the halt flag set is the halted state. On any other base
// state the flag is a deferred halt request, honoured at the next release.
type State uint64

const (
	Ready State = iota
	Running
	Waiting
	Receiving
	Suspended
	SuspendedBusy
)

// Halt is the halt flag.
const Halt State = 1 << 8

// Halted is a suspended process that the scheduler will not pick up.
const Halted = Suspended | Halt

var baseNames = [...]string{
	Ready:         "READY",
	Running:       "RUNNING",
	Waiting:       "WAITING",
	Receiving:     "RECEIVING",
	Suspended:     "SUSPENDED",
	SuspendedBusy: "SUSPENDED_BUSY",
}

// WaitingOn returns WAITING{ch}.
func WaitingOn(ch uint16) State {
	return Waiting | State(ch)<<32
}

// ReceivingOn returns RECEIVING{ch}.
func ReceivingOn(ch uint16) State {
	return Receiving | State(ch)<<32
}

// Base strips the halt flag and channel.
func (s State) Base() State { return s & 0xff }

// HaltRequested reports whether the halt flag is set.
func (s State) HaltRequested() bool { return s&Halt != 0 }

// Channel returns the channel of a WAITING or RECEIVING state.
func (s State) Channel() uint16 { return uint16(s >> 32) }

func (s State) String() string {
	b := s.Base()
	if s == Halted {
		return "HALTED"
	}
	var name string
	if int(b) < len(baseNames) {
		name = baseNames[b]
	} else {
		name = fmt.Sprintf("STATE(%d)", uint8(b))
	}
	if b == Waiting || b == Receiving {
		name = fmt.Sprintf("%s{%d}", name, s.Channel())
	}
	if s.HaltRequested() {
		name += "|HALT"
	}
	return name
}

// ParseState accepts the forms produced by State.String.
func ParseState(s string) (State, error) {
	if s == "HALTED" {
		return Halted, nil
	}
	var flag State
	if n := len(s) - len("|HALT"); n > 0 && s[n:] == "|HALT" {
		flag, s = Halt, s[:n]
	}
	for i, name := range baseNames {
		if s == name {
			return State(i) | flag, nil
		}
		var ch uint16
		if _, err := fmt.Sscanf(s, name+"{%d}", &ch); err == nil && (State(i) == Waiting || State(i) == Receiving) {
			return State(i) | State(ch)<<32 | flag, nil
		}
	}
	return 0, fmt.Errorf("unknown process state %q", s)
}
