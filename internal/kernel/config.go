package kernel

import (
	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/sched"
)

// Config describes the board and the kernel's static sizing.
type Config struct {
	Harts           int
	Procs           int
	Caps            int // user-visible capability slots per process
	Quanta          int // quanta per major frame
	Channels        int
	TicksPerQuantum uint64
	SlackTicks      uint64
	Memory          []Region
}

// Region is one physical memory range handed to process 0 at boot.
type Region struct {
	Begin, End uint32
	RWX        capability.RWX
}

// NRoots returns the number of sentinel nodes: one per hart, one per
// memory region, one for channels and one for supervision.
func (c Config) NRoots() int {
	return c.Harts + len(c.Memory) + 2
}

// Validate reports the first reason the configuration cannot boot.
func (c Config) Validate() error {
	switch {
	case c.Harts < 1 || c.Harts > sched.MaxHarts:
		return configError("harts = %d, want 1..%d", c.Harts, sched.MaxHarts)
	case c.Procs < 1 || c.Procs > sched.MaxPID+1:
		return configError("procs = %d, want 1..%d", c.Procs, sched.MaxPID+1)
	case c.Quanta < 1 || c.Quanta > 0xffff:
		return configError("quanta = %d, want 1..65535", c.Quanta)
	case c.Channels < 0 || c.Channels > 0xffff:
		return configError("channels = %d, want 0..65535", c.Channels)
	case c.Caps < c.Harts+len(c.Memory)+2:
		return configError("caps = %d, process 0 needs %d boot slots", c.Caps, c.Harts+len(c.Memory)+2)
	case c.TicksPerQuantum == 0:
		return configError("ticks per quantum must be positive")
	case c.SlackTicks >= c.TicksPerQuantum:
		return configError("slack %d must be below ticks per quantum %d", c.SlackTicks, c.TicksPerQuantum)
	}
	for i, r := range c.Memory {
		if r.Begin >= r.End {
			return configError("memory region %d: begin %#x >= end %#x", i, r.Begin, r.End)
		}
	}
	return nil
}
