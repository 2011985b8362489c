package testutil

import (
	"fmt"
	"sync"
)

// FixedRunIDs hands out predetermined run ids, then numbered ones.
//
// This enables deterministic audit logs and golden snapshot comparison:
// the same scenario with the same generator produces identical rows.
//
// Thread-safety: FixedRunIDs is safe for concurrent use via internal mutex.
type FixedRunIDs struct {
	mu  sync.Mutex
	ids []string
	n   int
}

// NewFixedRunIDs returns a generator yielding ids in order. Once they are
// used up it yields "test-run-<n>".
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	return &FixedRunIDs{ids: ids}
}

// Generate returns the next id.
func (g *FixedRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return fmt.Sprintf("test-run-%d", g.n)
}
