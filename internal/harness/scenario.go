package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/s3k/internal/abi"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/config"
	"github.com/roach88/s3k/internal/proc"
)

// Scenario is a scripted run against a freshly booted kernel.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Board is a board configuration, decoded and defaulted like a board
	// file. Programs are ignored.
	Board yaml.Node `yaml:"board"`

	// Flow is executed in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action of the flow. Exactly one of Call, Fault, Hold,
// Unhold and Release is set.
type Step struct {
	PID  int `yaml:"pid"`
	Hart int `yaml:"hart,omitempty"`

	// Call is a system call name, e.g. "derive_cap".
	Call string `yaml:"call,omitempty"`

	// Args are a0 onwards.
	Args []Word `yaml:"args,omitempty"`

	// Cap is appended to Args in its two-word form.
	Cap *CapSpec `yaml:"cap,omitempty"`

	// Fault raises an exception on PID instead of a system call.
	Fault *Fault `yaml:"fault,omitempty"`

	// Hold takes the named process SUSPENDED_BUSY on behalf of a
	// supervisor outside the scenario; Unhold lets it go.
	Hold   *int `yaml:"hold,omitempty"`
	Unhold *int `yaml:"unhold,omitempty"`

	// Release switches PID out as the hart would at the end of a slice.
	Release bool `yaml:"release,omitempty"`

	// Expect checks the outcome of a call.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Fault is a synchronous exception.
type Fault struct {
	Cause uint64 `yaml:"cause"`
	Tval  uint64 `yaml:"tval,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Status is the expected a0, e.g. "OK" or "NO_RECEIVER".
	Status string `yaml:"status,omitempty"`

	// Results is a prefix of a1..a6.
	Results []Word `yaml:"results,omitempty"`

	// Cap is the capability a read_cap should have returned in a1, a2.
	Cap *CapSpec `yaml:"cap,omitempty"`

	// Blocked expects the call to have blocked the process.
	Blocked bool `yaml:"blocked,omitempty"`

	// State is the caller's state after the step.
	State string `yaml:"state,omitempty"`
}

// Assertion validates final state or the trace.
type Assertion struct {
	// Type selects the check:
	//   - "status": calls with the given pid, call and status were made
	//     (count times if count is set, at least once otherwise)
	//   - "cap": slot of pid holds cap
	//   - "empty": slot of pid is empty
	//   - "state": pid is in state
	//   - "schedule": the lane of hart in quantum names pid (and depth),
	//     or is invalid
	//   - "reg": register reg of pid holds value
	Type string `yaml:"type"`

	PID     *int     `yaml:"pid,omitempty"`
	Slot    int      `yaml:"slot,omitempty"`
	Cap     *CapSpec `yaml:"cap,omitempty"`
	State   string   `yaml:"state,omitempty"`
	Hart    int      `yaml:"hart,omitempty"`
	Quantum uint64   `yaml:"quantum,omitempty"`
	Depth   *int     `yaml:"depth,omitempty"`
	Invalid bool     `yaml:"invalid,omitempty"`
	Reg     string   `yaml:"reg,omitempty"`
	Value   Word     `yaml:"value,omitempty"`
	Call    string   `yaml:"call,omitempty"`
	Status  string   `yaml:"status,omitempty"`
	Count   *int     `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus   = "status"
	AssertCap      = "cap"
	AssertEmpty    = "empty"
	AssertState    = "state"
	AssertSchedule = "schedule"
	AssertReg      = "reg"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario parses a scenario from YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []*Scenario
	names := map[string]string{}
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario %q already defined in %s", p, s.Name, prev)
		}
		names[s.Name] = p
		out = append(out, s)
	}
	return out, nil
}

// LoadBoard decodes the scenario's board.
func (s *Scenario) LoadBoard() (*config.Board, error) {
	data, err := yaml.Marshal(&s.Board)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	b, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	return b, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Board.Kind == 0 {
		return fmt.Errorf("board is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st Step) error {
	actions := 0
	for _, set := range []bool{st.Call != "", st.Fault != nil, st.Hold != nil, st.Unhold != nil, st.Release} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("flow[%d]: exactly one of call, fault, hold, unhold and release is required", i)
	}
	if st.Call != "" {
		if _, ok := abi.ParseCall(st.Call); !ok {
			return fmt.Errorf("flow[%d]: unknown call %q", i, st.Call)
		}
		n := len(st.Args)
		if st.Cap != nil {
			n += 2
			if _, err := st.Cap.Capability(); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
		}
		if n > 8 {
			return fmt.Errorf("flow[%d]: %d argument words, at most 8 fit in a0..a7", i, n)
		}
	} else if len(st.Args) > 0 || st.Cap != nil {
		return fmt.Errorf("flow[%d]: args and cap need a call", i)
	}
	if e := st.Expect; e != nil {
		if e.Status != "" {
			if _, ok := abi.ParseStatus(e.Status); !ok {
				return fmt.Errorf("flow[%d]: unknown status %q", i, e.Status)
			}
		}
		if e.State != "" {
			if _, err := proc.ParseState(e.State); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
		}
		if e.Cap != nil {
			if _, err := e.Cap.Capability(); err != nil {
				return fmt.Errorf("flow[%d]: expect: %w", i, err)
			}
		}
		if len(e.Results) > 6 {
			return fmt.Errorf("flow[%d]: at most 6 results", i)
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	needPID := func() error {
		if a.PID == nil {
			return fmt.Errorf("assertions[%d]: pid is required for %s", i, a.Type)
		}
		return nil
	}
	switch a.Type {
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", i)
		}
		if _, ok := abi.ParseStatus(a.Status); !ok {
			return fmt.Errorf("assertions[%d]: unknown status %q", i, a.Status)
		}
		if a.Call != "" {
			if _, ok := abi.ParseCall(a.Call); !ok {
				return fmt.Errorf("assertions[%d]: unknown call %q", i, a.Call)
			}
		}
		if a.Count != nil && *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case AssertCap:
		if a.Cap == nil {
			return fmt.Errorf("assertions[%d]: cap is required for cap", i)
		}
		if _, err := a.Cap.Capability(); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
		return needPID()
	case AssertEmpty:
		return needPID()
	case AssertState:
		if _, err := proc.ParseState(a.State); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
		return needPID()
	case AssertSchedule:
		if !a.Invalid {
			return needPID()
		}
	case AssertReg:
		if _, err := abi.ParseReg(a.Reg); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
		return needPID()
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}

// Word is a register value in a scenario: an integer or a name. Names are
// "none" (abi.NoSlot), register names ("a0", "epc"), invoke operation
// names ("send", "give_cap") and rwx masks ("r-x").
type Word uint64

var opNames = map[string]uint64{
	"slice":     abi.OpSlice,
	"split":     abi.OpSplit,
	"load":      abi.OpLoad,
	"unload":    abi.OpUnload,
	"recv":      abi.OpRecv,
	"send":      abi.OpSend,
	"suspend":   abi.OpSuspend,
	"resume":    abi.OpResume,
	"get_state": abi.OpGetState,
	"read_reg":  abi.OpReadReg,
	"write_reg": abi.OpWriteReg,
	"read_cap":  abi.OpReadCap,
	"give_cap":  abi.OpGiveCap,
	"take_cap":  abi.OpTakeCap,
}

// ParseWord resolves a symbolic word.
func ParseWord(s string) (Word, error) {
	if s == "none" {
		return Word(abi.NoSlot), nil
	}
	if v, ok := opNames[s]; ok {
		return Word(v), nil
	}
	if r, err := abi.ParseReg(s); err == nil {
		return Word(r), nil
	}
	if p, err := capability.ParseRWX(s); err == nil {
		return Word(p), nil
	}
	return 0, fmt.Errorf("unknown word %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (w *Word) UnmarshalYAML(n *yaml.Node) error {
	var u uint64
	if err := n.Decode(&u); err == nil {
		*w = Word(u)
		return nil
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("line %d: want an integer or a name", n.Line)
	}
	v, err := ParseWord(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*w = v
	return nil
}

// CapSpec describes a capability in a scenario. Fields not used by the
// type must be left out. Free defaults to begin and rwx to "rwx".
type CapSpec struct {
	Type    string  `yaml:"type"`
	Begin   uint64  `yaml:"begin,omitempty"`
	End     uint64  `yaml:"end,omitempty"`
	Free    *uint64 `yaml:"free,omitempty"`
	RWX     string  `yaml:"rwx,omitempty"`
	PMP     bool    `yaml:"pmp,omitempty"`
	Base    uint64  `yaml:"base,omitempty"`
	Size    uint64  `yaml:"size,omitempty"`
	Cfg     uint64  `yaml:"cfg,omitempty"`
	Slot    uint64  `yaml:"slot,omitempty"`
	Hart    uint64  `yaml:"hart,omitempty"`
	Depth   uint64  `yaml:"depth,omitempty"`
	Channel uint64  `yaml:"channel,omitempty"`
	Grant   bool    `yaml:"grant,omitempty"`
}

// Capability builds the described capability.
func (c CapSpec) Capability() (capability.Capability, error) {
	t, ok := capability.ParseType(c.Type)
	if !ok || t == capability.TypeEmpty {
		return nil, fmt.Errorf("cap: unknown type %q", c.Type)
	}
	free := c.Begin
	if c.Free != nil {
		free = *c.Free
	}
	rwx := capability.RWXAll
	if c.RWX != "" {
		var err error
		if rwx, err = capability.ParseRWX(c.RWX); err != nil {
			return nil, fmt.Errorf("cap: %w", err)
		}
	}
	napot := func() (uint64, error) {
		addr, ok := capability.NAPOTEncode(c.Base, c.Size)
		if !ok {
			return 0, fmt.Errorf("cap: %#x+%#x is not a NAPOT region", c.Base, c.Size)
		}
		return addr, nil
	}

	switch t {
	case capability.TypeMemory:
		return capability.Memory{Begin: uint32(c.Begin), End: uint32(c.End), Free: uint32(free), RWX: rwx, PMP: c.PMP}, nil
	case capability.TypePMP:
		addr, err := napot()
		if err != nil {
			return nil, err
		}
		return capability.PMP{Addr: addr, RWX: rwx}, nil
	case capability.TypeLoadedPMP:
		addr, err := napot()
		if err != nil {
			return nil, err
		}
		return capability.LoadedPMP{Addr: addr, Cfg: uint8(c.Cfg), Slot: uint8(c.Slot)}, nil
	case capability.TypeTime:
		return capability.Time{Hart: uint8(c.Hart), Begin: uint16(c.Begin), End: uint16(c.End), Free: uint16(free), Depth: uint8(c.Depth)}, nil
	case capability.TypeChannels:
		return capability.Channels{Begin: uint16(c.Begin), End: uint16(c.End), Free: uint16(free)}, nil
	case capability.TypeReceiver:
		return capability.Receiver{Channel: uint16(c.Channel)}, nil
	case capability.TypeSender:
		return capability.Sender{Channel: uint16(c.Channel), Grant: c.Grant}, nil
	default: // capability.TypeSupervisor
		return capability.Supervisor{Begin: uint8(c.Begin), End: uint8(c.End), Free: uint8(free)}, nil
	}
}
