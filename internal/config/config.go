// Package config loads board descriptions from YAML.
//
// A board file is decoded strictly (unknown keys are errors), validated
// against an embedded CUE schema that also supplies defaults, and converted
// to a kernel.Config plus the list of host programs to run.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/s3k/internal/canon"
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/kernel"
)

//go:embed schema.cue
var schemaSource string

// Board is a decoded board file.
type Board struct {
	Harts           int       `yaml:"harts" json:"harts"`
	Procs           int       `yaml:"procs" json:"procs"`
	Caps            int       `yaml:"caps" json:"caps"`
	Quanta          int       `yaml:"quanta" json:"quanta"`
	Channels        int       `yaml:"channels" json:"channels"`
	TicksPerQuantum uint64    `yaml:"ticks_per_quantum" json:"ticks_per_quantum"`
	SlackTicks      uint64    `yaml:"slack_ticks" json:"slack_ticks"`
	Tick            string    `yaml:"tick" json:"tick"`
	Memory          []Region  `yaml:"memory" json:"memory"`
	Programs        []Program `yaml:"programs" json:"programs"`
}

// Region is one memory range given to process 0.
type Region struct {
	Begin uint32 `yaml:"begin" json:"begin"`
	End   uint32 `yaml:"end" json:"end"`
	RWX   string `yaml:"rwx" json:"rwx"`
}

// Program names the host program a process runs under the simulator.
type Program struct {
	PID  int               `yaml:"pid" json:"pid"`
	Name string            `yaml:"name" json:"name"`
	Args map[string]uint64 `yaml:"args" json:"args"`
}

// Error reports an invalid board file.
type Error struct {
	Path    string
	Line    int
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// LoadFile reads and validates the board file at path.
func LoadFile(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read board: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Path == "" {
			ce.Path = path
		}
		return nil, err
	}
	return b, nil
}

// Parse decodes and validates a board from YAML.
func Parse(data []byte) (*Board, error) {
	// Strict pass: catches unknown keys and type mismatches with lines.
	var strict Board
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&strict); err != nil {
		return nil, yamlError(err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, yamlError(err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile board schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Board")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(err)
	}

	var b Board
	if err := v.Decode(&b); err != nil {
		return nil, cueError(err)
	}
	if _, err := b.Kernel(); err != nil {
		return nil, &Error{Message: err.Error()}
	}
	return &b, nil
}

func yamlError(err error) error {
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		return &Error{Message: te.Errors[0]}
	}
	return &Error{Message: err.Error()}
}

// cueError keeps the first CUE error, which names the offending field.
func cueError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	return &Error{Message: errs[0].Error()}
}

// Kernel converts the board to the kernel's boot configuration.
func (b *Board) Kernel() (kernel.Config, error) {
	cfg := kernel.Config{
		Harts:           b.Harts,
		Procs:           b.Procs,
		Caps:            b.Caps,
		Quanta:          b.Quanta,
		Channels:        b.Channels,
		TicksPerQuantum: b.TicksPerQuantum,
		SlackTicks:      b.SlackTicks,
	}
	for i, r := range b.Memory {
		rwx, err := capability.ParseRWX(r.RWX)
		if err != nil {
			return kernel.Config{}, fmt.Errorf("memory[%d]: %w", i, err)
		}
		cfg.Memory = append(cfg.Memory, kernel.Region{Begin: r.Begin, End: r.End, RWX: rwx})
	}
	if err := cfg.Validate(); err != nil {
		return kernel.Config{}, err
	}
	seen := make(map[int]bool)
	for _, p := range b.Programs {
		if p.PID >= b.Procs {
			return kernel.Config{}, fmt.Errorf("program %s: pid %d out of range", p.Name, p.PID)
		}
		if seen[p.PID] {
			return kernel.Config{}, fmt.Errorf("program %s: pid %d assigned twice", p.Name, p.PID)
		}
		seen[p.PID] = true
	}
	return cfg, nil
}

// TickDuration returns the wall-clock length of one tick.
func (b *Board) TickDuration() (time.Duration, error) {
	d, err := time.ParseDuration(b.Tick)
	if err != nil {
		return 0, fmt.Errorf("tick: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("tick must be positive")
	}
	return d, nil
}

// Program returns the program configured for pid.
func (b *Board) Program(pid int) (Program, bool) {
	for _, p := range b.Programs {
		if p.PID == pid {
			return p, true
		}
	}
	return Program{}, false
}

// Canonical returns the board as canonical JSON, the form stored with an
// audited run.
func (b *Board) Canonical() ([]byte, error) {
	return canon.Marshal(b.object())
}

// Hash returns a content digest of the board, stable across key order and
// formatting of the source file.
func (b *Board) Hash() (string, error) {
	return canon.Hash(canon.DomainConfig, b.object())
}

func (b *Board) object() canon.Object {
	memory := canon.Array{}
	for _, r := range b.Memory {
		memory = append(memory, canon.Object{"begin": r.Begin, "end": r.End, "rwx": r.RWX})
	}
	programs := canon.Array{}
	for _, p := range b.Programs {
		args := canon.Object{}
		for k, v := range p.Args {
			args[k] = v
		}
		programs = append(programs, canon.Object{"pid": p.PID, "name": p.Name, "args": args})
	}
	return canon.Object{
		"harts":             b.Harts,
		"procs":             b.Procs,
		"caps":              b.Caps,
		"quanta":            b.Quanta,
		"channels":          b.Channels,
		"ticks_per_quantum": b.TicksPerQuantum,
		"slack_ticks":       b.SlackTicks,
		"tick":              b.Tick,
		"memory":            memory,
		"programs":          programs,
	}
}
