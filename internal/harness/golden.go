package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/s3k/internal/canon"
)

// GoldenDir is where golden traces live, relative to a scenario directory.
const GoldenDir = "golden"

// Snapshot renders a trace as canonical JSON lines: a header naming the
// scenario, then one line per system call. Results are left out; flows
// check them with expect clauses.
func Snapshot(name string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	header, err := canon.Marshal(canon.Object{"scenario": name, "events": len(trace)})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for _, e := range trace {
		obj := canon.Object{
			"seq":  e.Seq,
			"pid":  e.PID,
			"call": e.Call,
			"args": trimZeros(e.Args),
		}
		if e.Hart != 0 {
			obj["hart"] = e.Hart
		}
		if e.Blocked {
			obj["blocked"] = true
		} else {
			obj["status"] = e.Status
		}
		line, err := canon.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("trace event %d: %w", e.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Digest identifies a trace by content.
func Digest(name string, trace []TraceEvent) (string, error) {
	data, err := Snapshot(name, trace)
	if err != nil {
		return "", err
	}
	return canon.HashBytes(canon.DomainTrace, data), nil
}

func trimZeros(words []uint64) []uint64 {
	n := len(words)
	for n > 0 && words[n-1] == 0 {
		n--
	}
	return append([]uint64{}, words[:n]...)
}

// RunWithGolden executes a scenario and compares the trace against
// dir/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, dir string, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, dir, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, dir, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join(dir, GoldenDir)),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// CompareGolden checks a result against dir/golden/{name}.golden outside
// of go test. With update set, the file is rewritten instead and match is
// always true.
func CompareGolden(dir, name string, result *Result, update bool) (match bool, err error) {
	data, err := Snapshot(name, result.Trace)
	if err != nil {
		return false, err
	}
	path := filepath.Join(dir, GoldenDir, name+".golden")
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return false, err
		}
		return true, os.WriteFile(path, data, 0o644)
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("golden file: %w", err)
	}
	return bytes.Equal(want, data), nil
}
