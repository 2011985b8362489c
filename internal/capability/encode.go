package capability

import (
	"errors"
	"fmt"
)

// Word is the two-word wire form of a capability, as read and written by
// user programs through read_cap and derive_cap.
//
// Layout of W0 (W1 is noted per type):
//
//	bits 0..7    type tag (all types)
//	memory       rwx 8..10, pmp 11, free 32..63; W1 = begin | end<<32
//	pmp          rwx 8..10;                      W1 = pmpaddr
//	loaded_pmp   cfg 8..15, slot 16..23;         W1 = pmpaddr
//	time         hart 8..15, depth 16..23, free 32..47; W1 = begin | end<<32
//	channels     free 32..47;                    W1 = begin | end<<32
//	receiver     -;                              W1 = channel
//	sender       grant 8;                        W1 = channel
//	supervisor   free 32..39;                    W1 = begin | end<<32
//
// Every other bit must be zero.
type Word struct {
	W0, W1 uint64
}

// ErrMalformed is returned by Decode for words that do not describe a
// capability in canonical form.
var ErrMalformed = errors.New("malformed capability word")

// TypeOf returns the tag of w without validating the rest of the word.
func TypeOf(w Word) Type {
	return Type(w.W0 & 0xff)
}

func pair(lo, hi uint64) uint64 {
	return lo | hi<<32
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Encode packs c into its wire form. It is total: every field width is fixed
// by its Go type.
func Encode(c Capability) Word {
	tag := uint64(c.Type())
	switch c := c.(type) {
	case Memory:
		return Word{
			W0: tag | uint64(c.RWX&RWXAll)<<8 | b2u(c.PMP)<<11 | uint64(c.Free)<<32,
			W1: pair(uint64(c.Begin), uint64(c.End)),
		}
	case PMP:
		return Word{W0: tag | uint64(c.RWX&RWXAll)<<8, W1: c.Addr}
	case LoadedPMP:
		return Word{W0: tag | uint64(c.Cfg)<<8 | uint64(c.Slot)<<16, W1: c.Addr}
	case Time:
		return Word{
			W0: tag | uint64(c.Hart)<<8 | uint64(c.Depth)<<16 | uint64(c.Free)<<32,
			W1: pair(uint64(c.Begin), uint64(c.End)),
		}
	case Channels:
		return Word{W0: tag | uint64(c.Free)<<32, W1: pair(uint64(c.Begin), uint64(c.End))}
	case Receiver:
		return Word{W0: tag, W1: uint64(c.Channel)}
	case Sender:
		return Word{W0: tag | b2u(c.Grant)<<8, W1: uint64(c.Channel)}
	case Supervisor:
		return Word{W0: tag | uint64(c.Free)<<32, W1: pair(uint64(c.Begin), uint64(c.End))}
	default:
		return Word{}
	}
}

// Decode unpacks w. A word is accepted only if encoding the result gives
// back exactly w, so reserved bits and out-of-range fields are rejected.
func Decode(w Word) (Capability, error) {
	lo, hi := w.W1&0xffffffff, w.W1>>32
	var c Capability
	switch TypeOf(w) {
	case TypeEmpty:
		c = Empty{}
	case TypeMemory:
		c = Memory{
			Begin: uint32(lo),
			End:   uint32(hi),
			Free:  uint32(w.W0 >> 32),
			RWX:   RWX(w.W0>>8) & RWXAll,
			PMP:   (w.W0>>11)&1 == 1,
		}
	case TypePMP:
		c = PMP{Addr: w.W1, RWX: RWX(w.W0>>8) & RWXAll}
	case TypeLoadedPMP:
		c = LoadedPMP{Addr: w.W1, Cfg: uint8(w.W0 >> 8), Slot: uint8(w.W0 >> 16)}
	case TypeTime:
		c = Time{
			Hart:  uint8(w.W0 >> 8),
			Depth: uint8(w.W0 >> 16),
			Free:  uint16(w.W0 >> 32),
			Begin: uint16(lo),
			End:   uint16(hi),
		}
	case TypeChannels:
		c = Channels{Begin: uint16(lo), End: uint16(hi), Free: uint16(w.W0 >> 32)}
	case TypeReceiver:
		c = Receiver{Channel: uint16(w.W1)}
	case TypeSender:
		c = Sender{Channel: uint16(w.W1), Grant: (w.W0>>8)&1 == 1}
	case TypeSupervisor:
		c = Supervisor{Begin: uint8(lo), End: uint8(hi), Free: uint8(w.W0 >> 32)}
	default:
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrMalformed, TypeOf(w))
	}
	if Encode(c) != w {
		return nil, fmt.Errorf("%w: non-canonical %s word %#x:%#x", ErrMalformed, c.Type(), w.W0, w.W1)
	}
	return c, nil
}
