package kernel

import (
	"errors"

	"github.com/roach88/s3k/internal/capability"
)

// Check walks every derivation list and verifies that each live node is a
// child of every node on its ancestor chain and that every range
// capability satisfies begin <= free <= end. It does not take a snapshot;
// run it on a quiescent kernel.
func (k *Kernel) Check() error {
	var errs []error
	for r := 0; r < k.caps.NRoots(); r++ {
		var stack []int
		var caps []capability.Capability
		k.caps.Walk(r, func(i int, c capability.Capability) bool {
			if !capability.WellFormed(c) {
				errs = append(errs, invariantError(ErrCodeRangeCorrupt, i, -1,
					"%s is not well formed", k.caps.Describe(i)))
			}
			for len(stack) > 0 && !capability.IsChild(caps[len(caps)-1], c) {
				stack, caps = stack[:len(stack)-1], caps[:len(caps)-1]
			}
			for n, a := range caps {
				if !capability.IsChild(a, c) {
					errs = append(errs, invariantError(ErrCodeTreeCorrupt, i, -1,
						"%s follows %s but is not its descendant", k.caps.Describe(i), k.caps.Describe(stack[n])))
				}
			}
			stack, caps = append(stack, i), append(caps, c)
			return true
		})
	}
	return errors.Join(errs...)
}
