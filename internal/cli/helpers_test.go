package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/s3k/internal/testutil"
)

const pingPongBoard = `
harts: 1
procs: 4
caps: 16
quanta: 4
channels: 2
ticks_per_quantum: 10
memory:
  - {begin: 0x80000000, end: 0x80010000}
programs:
  - {pid: 0, name: monitor}
  - {pid: 1, name: ping, args: {channel: 0, rounds: 3, memory: 4096}}
  - {pid: 2, name: pong, args: {channel: 0, quanta: 2}}
`

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeBoard(t *testing.T, content string) string {
	t.Helper()
	return writeFile(t, filepath.Join(t.TempDir(), "board.yaml"), content)
}

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// recordRun runs the ping-pong board into a fresh database under a fixed
// run id and returns the database path.
func recordRun(t *testing.T, runID string, frames int) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "s3k.db")
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "json"},
		Config:      writeBoard(t, pingPongBoard),
		Database:    db,
		Frames:      frames,
		RunIDs:      testutil.NewFixedRunIDs(runID),
	}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, runBoard(opts, cmd))
	return db
}

// decodeData unmarshals the data field of a JSON response into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if v != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, v))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}
