package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const pidScenario = `
name: pid
board:
  procs: 1
  quanta: 4
flow:
  - call: get_pid
    expect: {status: OK, results: [0]}
`

const wrongPidScenario = `
name: wrong_pid
board:
  procs: 1
  quanta: 4
flow:
  - call: get_pid
    expect: {status: OK, results: [1]}
`

func TestTest_HarnessScenarios(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ derive_memory")
	assert.Contains(t, out, "✓ send_recv_handoff")
	assert.NotContains(t, out, "✗")
}

func TestTest_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", harnessScenarios, "--filter", "time_*")
	require.NoError(t, err)

	var result TestResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 0, result.Failed)
	names := []string{result.Scenarios[0].Name, result.Scenarios[1].Name}
	assert.ElementsMatch(t, []string{"time_delegation", "time_revoke"}, names)
}

func TestTest_UpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pid.yaml"), pidScenario)
	golden := filepath.Join(dir, "golden", "pid.golden")

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ pid (golden updated)")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"call":"get_pid"`)

	out, err = execute(t, "test", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ pid")

	writeFile(t, golden, "{}\n")
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")
}

func TestTest_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pid.yaml"), pidScenario)
	writeFile(t, filepath.Join(dir, "wrong_pid.yaml"), wrongPidScenario)

	out, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result TestResult
	decodeData(t, out, &result)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Failed)
	for _, s := range result.Scenarios {
		if s.Name == "wrong_pid" {
			assert.False(t, s.Pass)
			require.NotEmpty(t, s.Errors)
			assert.Contains(t, s.Errors[0], "a1 = 0x0, want 0x1")
		}
	}
}

func TestTest_BadScenarioFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), "name: broken\nflow: []\n")

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTest_EmptyAndMissing(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	_, err = execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml", "c.txt", "golden/a.golden", "sub/d.yaml"} {
		writeFile(t, filepath.Join(dir, name), "")
	}

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, files)

	files, err = findScenarioFiles(dir, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yml")}, files)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
}
