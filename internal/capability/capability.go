// Package capability defines the kernel's capability values and the policy
// that governs how they may be derived from one another.
//
// A Capability is an immutable value. Inside the kernel it is always handled
// as one of the concrete variant structs below; the packed two-word form
// (see Word) exists only at the system-call boundary.
package capability

import (
	"fmt"
	"strings"
)

// Type is the tag stored in the low byte of a capability's first word.
type Type uint8

const (
	TypeEmpty Type = iota
	TypeMemory
	TypePMP
	TypeLoadedPMP
	TypeTime
	TypeChannels
	TypeReceiver
	TypeSender
	TypeSupervisor
)

var typeNames = [...]string{
	TypeEmpty:      "empty",
	TypeMemory:     "memory",
	TypePMP:        "pmp",
	TypeLoadedPMP:  "loaded_pmp",
	TypeTime:       "time",
	TypeChannels:   "channels",
	TypeReceiver:   "receiver",
	TypeSender:     "sender",
	TypeSupervisor: "supervisor",
}

// String returns the lower-case type name used in traces and scenario files.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, bool) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), true
		}
	}
	return TypeEmpty, false
}

// RWX is a 3-bit access mask.
type RWX uint8

const (
	R RWX = 1 << iota
	W
	X

	RWXAll = R | W | X
)

// Subset reports whether every bit of p is also set in of.
func (p RWX) Subset(of RWX) bool {
	return p&^of == 0
}

func (p RWX) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit RWX
		ch  byte
	}{{R, 'r'}, {W, 'w'}, {X, 'x'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.ch)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ParseRWX accepts the "rwx" / "r-x" form produced by RWX.String.
func ParseRWX(s string) (RWX, error) {
	if len(s) != 3 {
		return 0, fmt.Errorf("rwx %q: want 3 characters", s)
	}
	var p RWX
	for i, want := range []byte{'r', 'w', 'x'} {
		switch s[i] {
		case want:
			p |= 1 << i
		case '-':
		default:
			return 0, fmt.Errorf("rwx %q: unexpected %q at %d", s, s[i], i)
		}
	}
	return p, nil
}

// Capability is a sealed interface: only the variant types in this package
// implement it.
type Capability interface {
	Type() Type
	capability()
}

// Empty is the absent capability.
type Empty struct{}

// Memory grants access to the byte range [Begin, End). Sub-ranges below Free
// have been handed out to children. PMP is set once a hardware region has
// been carved from the range; while set, no further memory children may be
// derived.
type Memory struct {
	Begin, End, Free uint32
	RWX              RWX
	PMP              bool
}

// PMP is a NAPOT region descriptor in pmpaddr format that has not been
// loaded into a hardware slot.
type PMP struct {
	Addr uint64
	RWX  RWX
}

// LoadedPMP is the hidden child of a PMP capability recording that the
// region occupies hardware slot Slot of its owner, with configuration Cfg.
type LoadedPMP struct {
	Addr uint64
	Cfg  uint8
	Slot uint8
}

// Time owns quanta [Begin, End) of hart Hart's major frame.
type Time struct {
	Hart             uint8
	Begin, End, Free uint16
	Depth            uint8
}

// Channels owns channel identifiers [Begin, End).
type Channels struct {
	Begin, End, Free uint16
}

// Receiver is the receiving endpoint of one channel.
type Receiver struct {
	Channel uint16
}

// Sender is the sending endpoint of one channel. Grant permits a capability
// to ride along with a message.
type Sender struct {
	Channel uint16
	Grant   bool
}

// Supervisor grants control over process IDs [Begin, End).
type Supervisor struct {
	Begin, End, Free uint8
}

func (Empty) Type() Type      { return TypeEmpty }
func (Memory) Type() Type     { return TypeMemory }
func (PMP) Type() Type        { return TypePMP }
func (LoadedPMP) Type() Type  { return TypeLoadedPMP }
func (Time) Type() Type       { return TypeTime }
func (Channels) Type() Type   { return TypeChannels }
func (Receiver) Type() Type   { return TypeReceiver }
func (Sender) Type() Type     { return TypeSender }
func (Supervisor) Type() Type { return TypeSupervisor }

func (Empty) capability()      {}
func (Memory) capability()     {}
func (PMP) capability()        {}
func (LoadedPMP) capability()  {}
func (Time) capability()       {}
func (Channels) capability()   {}
func (Receiver) capability()   {}
func (Sender) capability()     {}
func (Supervisor) capability() {}

func (Empty) String() string { return "empty" }

func (c Memory) String() string {
	return fmt.Sprintf("memory{begin=%#x end=%#x free=%#x rwx=%s pmp=%t}", c.Begin, c.End, c.Free, c.RWX, c.PMP)
}

func (c PMP) String() string {
	base, size := NAPOTDecode(c.Addr)
	return fmt.Sprintf("pmp{base=%#x size=%#x rwx=%s}", base, size, c.RWX)
}

func (c LoadedPMP) String() string {
	base, size := NAPOTDecode(c.Addr)
	return fmt.Sprintf("loaded_pmp{base=%#x size=%#x cfg=%#x slot=%d}", base, size, c.Cfg, c.Slot)
}

func (c Time) String() string {
	return fmt.Sprintf("time{hart=%d begin=%d end=%d free=%d depth=%d}", c.Hart, c.Begin, c.End, c.Free, c.Depth)
}

func (c Channels) String() string {
	return fmt.Sprintf("channels{begin=%d end=%d free=%d}", c.Begin, c.End, c.Free)
}

func (c Receiver) String() string {
	return fmt.Sprintf("receiver{channel=%d}", c.Channel)
}

func (c Sender) String() string {
	return fmt.Sprintf("sender{channel=%d grant=%t}", c.Channel, c.Grant)
}

func (c Supervisor) String() string {
	return fmt.Sprintf("supervisor{begin=%d end=%d free=%d}", c.Begin, c.End, c.Free)
}
