// Package sched holds the major-frame schedule and the per-hart dispatch
// loop that consumes it.
//
// The schedule is mutated only by time-capability operations (derive,
// delete, revoke, move) and read by every hart at each quantum boundary.
package sched

import (
	"fmt"
	"sync/atomic"
)

// MaxHarts is the number of 16-bit lanes that fit in one schedule slot.
const MaxHarts = 4

// MaxPID is the largest pid a lane can name.
const MaxPID = 0x7f

// Lane is one hart's entry in a schedule slot: pid in bits 0..6, the
// invalid bit 7, depth in bits 8..15.
type Lane uint16

const invalidBit Lane = 1 << 7

// MakeLane returns the valid lane (pid, depth).
func MakeLane(pid int, depth uint8) Lane {
	return Lane(pid&MaxPID) | Lane(depth)<<8
}

func (l Lane) PID() int      { return int(l & MaxPID) }
func (l Lane) Depth() uint8  { return uint8(l >> 8) }
func (l Lane) Valid() bool   { return l&invalidBit == 0 }
func (l Lane) Invalid() Lane { return l | invalidBit }

func (l Lane) String() string {
	if !l.Valid() {
		return fmt.Sprintf("-(%d@%d)", l.PID(), l.Depth())
	}
	return fmt.Sprintf("%d@%d", l.PID(), l.Depth())
}

// Schedule is the major frame: one slot per quantum, one lane per hart.
//
// Thread-safety: every method is safe for concurrent use. Each lane
// mutation is a compare-and-swap of the whole slot, retried only when a
// different lane of the same slot changed underneath.
type Schedule struct {
	harts int
	slots []atomic.Uint64
}

// New creates a schedule of quanta slots in which pid 0 at depth 0 owns
// every lane of every hart.
func New(harts, quanta int) *Schedule {
	if harts < 1 || harts > MaxHarts {
		panic(fmt.Sprintf("sched: %d harts, want 1..%d", harts, MaxHarts))
	}
	return &Schedule{harts: harts, slots: make([]atomic.Uint64, quanta)}
}

// Harts returns the number of harts.
func (s *Schedule) Harts() int { return s.harts }

// Quanta returns the number of quanta in the major frame.
func (s *Schedule) Quanta() int { return len(s.slots) }

func laneOf(w uint64, hart int) Lane {
	return Lane(w >> (16 * hart))
}

func withLane(w uint64, hart int, l Lane) uint64 {
	shift := 16 * hart
	return w&^(0xffff<<shift) | uint64(l)<<shift
}

// Lane returns hart's lane of quantum q (taken modulo the frame length).
func (s *Schedule) Lane(hart int, q uint64) Lane {
	return laneOf(s.slots[q%uint64(len(s.slots))].Load(), hart)
}

// Update replaces lane from with lane to for hart over quanta
// [begin, end). Quanta whose lane is not from are skipped. Before each
// quantum alive is consulted; once it reports false (the governing
// capability was deleted) the update is abandoned, since whoever deleted
// it owns the range now. It returns the number of quanta changed.
func (s *Schedule) Update(hart int, begin, end int, from, to Lane, alive func() bool) int {
	return s.mutate(hart, begin, end, alive, func(l Lane) (Lane, bool) {
		return to, l == from
	})
}

// Install hands quanta [begin, end) from a parent lane to a derived one.
func (s *Schedule) Install(hart, begin, end int, parent, child Lane, alive func() bool) int {
	return s.Update(hart, begin, end, parent, child, alive)
}

// Invalidate marks owner's quanta in [begin, end) as scheduling nobody.
func (s *Schedule) Invalidate(hart, begin, end int, owner Lane, alive func() bool) int {
	return s.Update(hart, begin, end, owner, owner.Invalid(), alive)
}

// Revert hands every quantum in [begin, end) held at a depth greater than
// owner's back to owner, whether or not the deeper lane is still valid.
func (s *Schedule) Revert(hart, begin, end int, owner Lane, alive func() bool) int {
	return s.mutate(hart, begin, end, alive, func(l Lane) (Lane, bool) {
		return owner, l.Depth() > owner.Depth()
	})
}

func (s *Schedule) mutate(hart, begin, end int, alive func() bool, fn func(Lane) (Lane, bool)) int {
	changed := 0
	for q := begin; q < end && q < len(s.slots); q++ {
		if alive != nil && !alive() {
			return changed
		}
		slot := &s.slots[q]
		for {
			w := slot.Load()
			to, ok := fn(laneOf(w, hart))
			if !ok {
				break
			}
			if slot.CompareAndSwap(w, withLane(w, hart, to)) {
				changed++
				break
			}
		}
	}
	return changed
}

// Select returns the pid scheduled on hart in quantum q. A lane naming a
// pid that a lower-numbered hart also holds in q yields nothing, so a
// process never runs on two harts in one quantum.
func (s *Schedule) Select(hart int, q uint64) (int, bool) {
	w := s.slots[q%uint64(len(s.slots))].Load()
	l := laneOf(w, hart)
	if !l.Valid() {
		return 0, false
	}
	for h := 0; h < hart; h++ {
		if o := laneOf(w, h); o.Valid() && o.PID() == l.PID() {
			return 0, false
		}
	}
	return l.PID(), true
}

// RunLength returns how many consecutive quanta, starting at q and not
// crossing the end of the frame, hart's lane stays unchanged.
func (s *Schedule) RunLength(hart int, q uint64) uint64 {
	n := uint64(len(s.slots))
	first := s.Lane(hart, q)
	length := uint64(1)
	for i := q%n + 1; i < n; i++ {
		if laneOf(s.slots[i].Load(), hart) != first {
			break
		}
		length++
	}
	return length
}

// Snapshot returns hart's lanes for the whole frame.
func (s *Schedule) Snapshot(hart int) []Lane {
	out := make([]Lane, len(s.slots))
	for q := range s.slots {
		out[q] = laneOf(s.slots[q].Load(), hart)
	}
	return out
}
