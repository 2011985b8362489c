package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanDerive_MemoryBumpAllocation(t *testing.T) {
	parent := Capability(Memory{Begin: 0, End: 100, Free: 0, RWX: RWXAll})

	first := Memory{Begin: 0, End: 50, Free: 0, RWX: RWXAll}
	require.True(t, CanDerive(parent, first))
	parent = AfterDerive(parent, first)
	assert.Equal(t, uint32(50), parent.(Memory).Free)

	assert.False(t, CanDerive(parent, Memory{Begin: 0, End: 50, Free: 0, RWX: RWXAll}),
		"begin below free must be rejected")

	second := Memory{Begin: 50, End: 100, Free: 50, RWX: RWXAll}
	require.True(t, CanDerive(parent, second))
	parent = AfterDerive(parent, second)

	assert.True(t, IsChild(parent, first))
	assert.True(t, IsChild(parent, second))
	assert.False(t, IsChild(first, second))
}

func TestCanDerive_RejectsMalformedChildren(t *testing.T) {
	parent := Memory{Begin: 0, End: 100, Free: 10, RWX: R | W}

	tests := []struct {
		name  string
		child Capability
	}{
		{"empty range", Memory{Begin: 10, End: 10, Free: 10, RWX: R}},
		{"past end", Memory{Begin: 10, End: 101, Free: 10, RWX: R}},
		{"free not at begin", Memory{Begin: 10, End: 20, Free: 11, RWX: R}},
		{"extra permission", Memory{Begin: 10, End: 20, Free: 10, RWX: X}},
		{"pmp flag preset", Memory{Begin: 10, End: 20, Free: 10, RWX: R, PMP: true}},
		{"wrong type", Channels{Begin: 10, End: 20, Free: 10}},
		{"hidden type", LoadedPMP{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, CanDerive(parent, tt.child))
		})
	}
}

func TestCanDerive_PMPFreezesMemory(t *testing.T) {
	parent := Capability(Memory{Begin: 0x1000, End: 0x3000, Free: 0x1000, RWX: RWXAll})
	addr, ok := NAPOTEncode(0x2000, 0x1000)
	require.True(t, ok)

	region := PMP{Addr: addr, RWX: R | W}
	require.True(t, CanDerive(parent, region))
	parent = AfterDerive(parent, region)
	assert.True(t, parent.(Memory).PMP)
	assert.True(t, IsChild(parent, region))
	assert.True(t, IsChild(parent, LoadedPMP{Addr: addr, Cfg: 0x1b}))
	assert.True(t, IsChild(region, LoadedPMP{Addr: addr}))

	assert.False(t, CanDerive(parent, Memory{Begin: 0x1000, End: 0x2000, Free: 0x1000, RWX: R}),
		"memory with a carved region cannot be subdivided")

	parent = AfterRevoke(parent)
	assert.Equal(t, Memory{Begin: 0x1000, End: 0x3000, Free: 0x1000, RWX: RWXAll}, parent)
}

func TestCanDerive_PMPOutsideFreeRegion(t *testing.T) {
	parent := Memory{Begin: 0, End: 0x4000, Free: 0x2000, RWX: RWXAll}
	addr, _ := NAPOTEncode(0x1000, 0x1000)
	assert.False(t, CanDerive(parent, PMP{Addr: addr, RWX: R}))
	assert.True(t, IsChild(parent, PMP{Addr: addr, RWX: R}), "still topologically inside")
}

func TestTime_DepthOrdersDerivation(t *testing.T) {
	root := Capability(Time{Hart: 0, Begin: 0, End: 16, Free: 0, Depth: 0})

	child := Time{Hart: 0, Begin: 0, End: 8, Free: 0, Depth: 1}
	require.True(t, CanDerive(root, child))
	assert.False(t, CanDerive(root, Time{Hart: 1, Begin: 0, End: 8, Free: 0, Depth: 1}), "other hart")
	assert.False(t, CanDerive(root, Time{Hart: 0, Begin: 0, End: 8, Free: 0, Depth: 0}), "same depth")

	root = AfterDerive(root, child)
	assert.Equal(t, uint16(8), root.(Time).Free)

	grandchild := Time{Hart: 0, Begin: 2, End: 4, Free: 2, Depth: 5}
	assert.True(t, IsChild(root, grandchild))
	assert.True(t, IsChild(child, grandchild))

	sibling := Time{Hart: 0, Begin: 8, End: 16, Free: 8, Depth: 1}
	assert.False(t, IsChild(child, sibling))
}

func TestChannels_ReceiverAndSender(t *testing.T) {
	chans := Capability(Channels{Begin: 0, End: 8, Free: 3})

	assert.False(t, CanDerive(chans, Receiver{Channel: 2}), "below free")
	require.True(t, CanDerive(chans, Receiver{Channel: 3}))
	chans = AfterDerive(chans, Receiver{Channel: 3})
	assert.Equal(t, uint16(4), chans.(Channels).Free)

	recv := Receiver{Channel: 3}
	assert.True(t, CanDerive(recv, Sender{Channel: 3, Grant: true}))
	assert.False(t, CanDerive(recv, Sender{Channel: 4}))
	assert.True(t, IsChild(chans, Sender{Channel: 3}))
	assert.False(t, CanDerive(chans, Sender{Channel: 4}), "senders come from receivers")

	full := Channels{Begin: 0, End: 4, Free: 4}
	assert.False(t, CanDerive(full, Receiver{Channel: 4}))
}

func TestSupervisor_Bump(t *testing.T) {
	sup := Capability(Supervisor{Begin: 0, End: 8, Free: 1})
	child := Supervisor{Begin: 1, End: 4, Free: 1}
	require.True(t, CanDerive(sup, child))
	sup = AfterDerive(sup, child)
	assert.Equal(t, uint8(4), sup.(Supervisor).Free)
	assert.True(t, IsChild(sup, child))
	assert.Equal(t, uint8(0), AfterRevoke(sup).(Supervisor).Free)
}

func TestIsChild_UndefinedPairs(t *testing.T) {
	assert.False(t, IsChild(Empty{}, Empty{}))
	assert.False(t, IsChild(Sender{Channel: 1}, Receiver{Channel: 1}))
	assert.False(t, IsChild(Time{End: 10}, Memory{End: 10}))
	assert.False(t, IsChild(Supervisor{End: 4}, Time{End: 4, Depth: 1}))
}

func TestSliceAndSplit(t *testing.T) {
	m := Memory{Begin: 0, End: 100, Free: 0, RWX: RWXAll}

	s, ok := Slice(m, 10, 20, R)
	require.True(t, ok)
	assert.Equal(t, Memory{Begin: 10, End: 20, Free: 10, RWX: R}, s)

	_, ok = Slice(m, 10, 200, R)
	assert.False(t, ok)
	_, ok = Slice(Memory{Begin: 0, End: 100, Free: 5, RWX: R}, 10, 20, R)
	assert.False(t, ok, "allocated capabilities cannot be sliced")

	l, r, ok := Split(Time{Hart: 1, Begin: 0, End: 10, Free: 0, Depth: 2}, 4)
	require.True(t, ok)
	assert.Equal(t, Time{Hart: 1, Begin: 0, End: 4, Free: 0, Depth: 2}, l)
	assert.Equal(t, Time{Hart: 1, Begin: 4, End: 10, Free: 4, Depth: 2}, r)

	_, _, ok = Split(Channels{Begin: 0, End: 10}, 10)
	assert.False(t, ok)
	_, _, ok = Split(Receiver{Channel: 1}, 1)
	assert.False(t, ok)
}

func TestWellFormed(t *testing.T) {
	assert.True(t, WellFormed(Memory{Begin: 1, End: 3, Free: 2}))
	assert.False(t, WellFormed(Time{Begin: 1, End: 3, Free: 4}))
	assert.True(t, WellFormed(Sender{}))
}
