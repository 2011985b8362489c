package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivationLists(t *testing.T) {
	result, err := Run(mustParse(t, `
name: lists
board:
  procs: 2
  quanta: 4
  memory:
    - {begin: 0x1000, end: 0x2000}
flow:
  - call: derive_cap
    args: [1, 5]
    cap: {type: memory, begin: 0x1000, end: 0x1800}
    expect: {status: OK}
`))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	out := DerivationLists(result.Kernel)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 9)
	assert.Equal(t, "time hart 0:", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "  proc[0].cap[0]="))
	assert.Equal(t, "memory 0x1000-0x2000:", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "  proc[0].cap[1]="))
	assert.True(t, strings.HasPrefix(lines[4], "  proc[0].cap[5]="), "child follows its parent")
	assert.Equal(t, "channels:", lines[5])
	assert.Equal(t, "supervisor:", lines[7])
	assert.True(t, strings.HasPrefix(lines[8], "  proc[0].cap[3]="))
}
