package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/s3k/internal/capability"
	"github.com/roach88/s3k/internal/kernel"
)

// DerivationLists renders the list of every sentinel in list order, one
// capability per line, indented under a header naming the root.
func DerivationLists(k *kernel.Kernel) string {
	cfg := k.Config()
	caps := k.Caps()

	var b strings.Builder
	for r := 0; r < caps.NRoots(); r++ {
		fmt.Fprintf(&b, "%s:\n", rootName(cfg, r))
		caps.Walk(r, func(i int, _ capability.Capability) bool {
			fmt.Fprintf(&b, "  %s\n", caps.Describe(i))
			return true
		})
	}
	return b.String()
}

func rootName(cfg kernel.Config, r int) string {
	switch {
	case r < cfg.Harts:
		return fmt.Sprintf("time hart %d", r)
	case r < cfg.Harts+len(cfg.Memory):
		m := cfg.Memory[r-cfg.Harts]
		return fmt.Sprintf("memory %#x-%#x", m.Begin, m.End)
	case r == cfg.Harts+len(cfg.Memory):
		return "channels"
	default:
		return "supervisor"
	}
}
