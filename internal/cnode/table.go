// Package cnode stores every process's capabilities in one lock-free arena.
//
// Nodes are linked into circular doubly-linked lists, one per root sentinel.
// A capability's descendants are exactly the contiguous run of its list
// successors that capability.IsChild accepts, so the tree is flattened into
// list order: children are always inserted directly after their parent.
//
// Links are node indices. The only source of truth for "deleted" is
// next == nilIdx. prev doubles as a claim word: a deleter or updater takes
// ownership of a node by swapping prev to nilIdx or busyIdx.
//
// Thread-safety: every method is safe for concurrent use. No method blocks;
// contended compare-and-swap loops spin with runtime.Gosched.
package cnode

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/roach88/s3k/internal/capability"
)

const (
	nilIdx  int32 = -1
	busyIdx int32 = -2
)

// HiddenSlots is the number of per-process slots reserved for loaded PMP
// regions, one per hardware PMP register.
const HiddenSlots = 8

// entry is an immutable snapshot of a node's capability. Replacing the
// pointer (rather than the value) lets readers detect concurrent updates by
// pointer identity.
type entry struct {
	cap capability.Capability
}

type node struct {
	prev atomic.Int32
	next atomic.Int32
	cap  atomic.Pointer[entry]
}

// Table is the arena of all capability nodes: nproc*(ncaps+HiddenSlots)
// process nodes followed by nroots sentinels.
type Table struct {
	nproc  int
	ncaps  int
	stride int
	nroots int
	nodes  []node
}

// New creates a table with every process node deleted and every sentinel
// forming an empty circular list.
func New(nproc, ncaps, nroots int) *Table {
	t := &Table{
		nproc:  nproc,
		ncaps:  ncaps,
		stride: ncaps + HiddenSlots,
		nroots: nroots,
	}
	t.nodes = make([]node, nproc*t.stride+nroots)
	for i := range t.nodes {
		t.nodes[i].prev.Store(nilIdx)
		t.nodes[i].next.Store(nilIdx)
		t.nodes[i].cap.Store(&entry{cap: capability.Empty{}})
	}
	for r := 0; r < nroots; r++ {
		i := int32(t.Root(r))
		t.nodes[i].prev.Store(i)
		t.nodes[i].next.Store(i)
	}
	return t
}

// NProc returns the number of processes the table was sized for.
func (t *Table) NProc() int { return t.nproc }

// NCaps returns the number of user-visible slots per process.
func (t *Table) NCaps() int { return t.ncaps }

// NRoots returns the number of sentinels.
func (t *Table) NRoots() int { return t.nroots }

// Index returns the node index of slot of process pid. Slots [0, NCaps) are
// user-visible; [NCaps, NCaps+HiddenSlots) hold loaded PMP regions.
func (t *Table) Index(pid, slot int) int {
	return pid*t.stride + slot
}

// Hidden returns the node index of hidden PMP slot n of process pid.
func (t *Table) Hidden(pid, n int) int {
	return t.Index(pid, t.ncaps+n)
}

// Root returns the node index of sentinel r.
func (t *Table) Root(r int) int {
	return t.nproc*t.stride + r
}

// IsRoot reports whether i is a sentinel.
func (t *Table) IsRoot(i int) bool {
	return i >= t.nproc*t.stride
}

// Owner returns the process owning node i and its slot, or (-1, -1) for a
// sentinel.
func (t *Table) Owner(i int) (pid, slot int) {
	if t.IsRoot(i) {
		return -1, -1
	}
	return i / t.stride, i % t.stride
}

// ValidSlot reports whether slot is a user-visible slot number.
func (t *Table) ValidSlot(slot uint64) bool {
	return slot < uint64(t.ncaps)
}

func (t *Table) live(i int32) bool {
	n := &t.nodes[i]
	next := n.next.Load()
	if next < 0 {
		return false
	}
	prev := n.prev.Load()
	return prev >= 0 || prev == busyIdx
}

// Live reports whether node i currently holds a capability.
func (t *Table) Live(i int) bool {
	return t.live(int32(i))
}

// Get returns the capability held by node i. ok is false when the node is
// deleted; the returned value is then capability.Empty.
func (t *Table) Get(i int) (c capability.Capability, ok bool) {
	n := &t.nodes[i]
	for {
		e := n.cap.Load()
		if !t.live(int32(i)) {
			return capability.Empty{}, false
		}
		// The entry may have been swapped while we checked liveness.
		if n.cap.Load() == e {
			return e.cap, true
		}
	}
}

// Delete unlinks node i. It returns false if the node was already deleted
// or another actor claimed it first; callers treat that as "someone else
// removed it", not as an error. Sentinels are never deleted.
func (t *Table) Delete(i int) bool {
	if t.IsRoot(i) {
		return false
	}
	n := &t.nodes[i]
	for {
		p := n.prev.Load()
		switch {
		case p == nilIdx:
			return false
		case p == busyIdx:
			runtime.Gosched()
			continue
		}
		if n.next.Load() < 0 {
			return false
		}
		if n.prev.CompareAndSwap(p, nilIdx) {
			t.unlink(int32(i), p)
			return true
		}
	}
}

// deleteIf deletes i only while it still follows expectPrev and still
// holds the entry e. Revoke uses it so a recycled node is never deleted by
// mistake.
func (t *Table) deleteIf(i, expectPrev int32, e *entry) bool {
	n := &t.nodes[i]
	if !n.prev.CompareAndSwap(expectPrev, nilIdx) {
		return false
	}
	if n.cap.Load() != e || n.next.Load() < 0 {
		n.prev.Store(expectPrev)
		return false
	}
	t.unlink(i, expectPrev)
	return true
}

// unlink removes claimed node i (prev already nilIdx) whose predecessor
// was p.
func (t *Table) unlink(i, p int32) {
	n := &t.nodes[i]
	for {
		s := n.next.Load()
		if t.nodes[s].prev.CompareAndSwap(i, p) {
			t.nodes[p].next.Store(s)
			break
		}
		runtime.Gosched()
	}
	n.cap.Store(&entry{cap: capability.Empty{}})
	n.next.Store(nilIdx)
}

// Insert places c into deleted node i as the immediate successor of
// parent. It fails if i is occupied (a collision) or once parent is
// deleted; a deleted parent never regains children.
func (t *Table) Insert(c capability.Capability, i, parent int) bool {
	n := &t.nodes[i]
	if !n.next.CompareAndSwap(nilIdx, busyIdx) {
		return false
	}
	n.cap.Store(&entry{cap: c})
	pi, ni := int32(parent), int32(i)
	pn := &t.nodes[parent]
	for {
		if !t.live(pi) {
			n.cap.Store(&entry{cap: capability.Empty{}})
			n.next.Store(nilIdx)
			return false
		}
		succ := pn.next.Load()
		if succ < 0 {
			runtime.Gosched()
			continue
		}
		n.next.Store(succ)
		if t.nodes[succ].prev.CompareAndSwap(pi, ni) {
			n.prev.Store(pi)
			pn.next.Store(ni)
			return true
		}
		n.next.Store(busyIdx)
		runtime.Gosched()
	}
}

// Move inserts c into dst as the successor of src and then deletes src.
// If src is removed by someone else in between, the copy in dst is
// deleted too and Move reports false.
func (t *Table) Move(c capability.Capability, src, dst int) bool {
	if !t.Insert(c, dst, src) {
		return false
	}
	if !t.Delete(src) {
		t.Delete(dst)
		return false
	}
	return true
}

// Update replaces the capability of live node i without moving it.
func (t *Table) Update(c capability.Capability, i int) bool {
	n := &t.nodes[i]
	for {
		p := n.prev.Load()
		switch {
		case p == nilIdx:
			return false
		case p == busyIdx:
			runtime.Gosched()
			continue
		}
		if !n.prev.CompareAndSwap(p, busyIdx) {
			continue
		}
		ok := n.next.Load() >= 0
		if ok {
			n.cap.Store(&entry{cap: c})
		}
		n.prev.Store(p)
		return ok
	}
}

// Revoke deletes the successors of i that are its descendants, stopping at
// the first successor that is not. It deletes every descendant present
// throughout the call; a descendant inserted concurrently may survive.
// It returns the number of nodes deleted by this call.
func (t *Table) Revoke(i int) int {
	ii := int32(i)
	n := &t.nodes[i]
	deleted := 0
	for {
		pe := n.cap.Load()
		if !t.live(ii) {
			return deleted
		}
		s := n.next.Load()
		if s < 0 {
			return deleted
		}
		if t.IsRoot(int(s)) {
			return deleted
		}
		sn := &t.nodes[s]
		se := sn.cap.Load()
		if sn.prev.Load() != ii || sn.next.Load() < 0 {
			// Successor in flux: being inserted, deleted, or updated.
			runtime.Gosched()
			continue
		}
		if !capability.IsChild(pe.cap, se.cap) {
			return deleted
		}
		if t.deleteIf(s, ii, se) {
			deleted++
		}
	}
}

// Walk calls fn for every live node in the list of sentinel r, in list
// order. It is meant for inspection and tests and does not take a
// consistent snapshot.
func (t *Table) Walk(r int, fn func(i int, c capability.Capability) bool) {
	root := int32(t.Root(r))
	for i := t.nodes[root].next.Load(); i != root && i >= 0; i = t.nodes[i].next.Load() {
		c, ok := t.Get(int(i))
		if !ok {
			continue
		}
		if !fn(int(i), c) {
			return
		}
	}
}

// Pred returns the list predecessor of live node i.
func (t *Table) Pred(i int) (int, bool) {
	p := t.nodes[i].prev.Load()
	if p < 0 || t.nodes[i].next.Load() < 0 {
		return 0, false
	}
	return int(p), true
}

// Describe renders node i for diagnostics.
func (t *Table) Describe(i int) string {
	if t.IsRoot(i) {
		return fmt.Sprintf("root[%d]", i-t.nproc*t.stride)
	}
	pid, slot := t.Owner(i)
	c, _ := t.Get(i)
	return fmt.Sprintf("proc[%d].cap[%d]=%v", pid, slot, c)
}
