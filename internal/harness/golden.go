package harness

import (
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pagebuild/internal/ir"
)

// Snapshot captures what a scenario run published.
// Fingerprints in file names are replaced by [hash] so that a change to a
// stage's output shows up as a failed assertion, not a churned snapshot.
type Snapshot struct {
	ScenarioName   string   `json:"scenario_name"`
	ErrorKind      string   `json:"error_kind"`
	Status         string   `json:"status"`
	ToolchainCalls int      `json:"toolchain_calls"`
	Files          []string `json:"files"`
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(name string, result *Result) Snapshot {
	files := make([]string, 0, len(result.Files))
	for p := range result.Files {
		files = append(files, normalizePath(p))
	}
	sort.Strings(files)
	return Snapshot{
		ScenarioName:   name,
		ErrorKind:      result.ErrorKind,
		Status:         result.Build.Status,
		ToolchainCalls: result.ToolchainCalls,
		Files:          files,
	}
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles maps, slices and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	return map[string]any{
		"scenario_name":   s.ScenarioName,
		"error_kind":      s.ErrorKind,
		"status":          s.Status,
		"toolchain_calls": s.ToolchainCalls,
		"files":           s.Files,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario could not be run. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's snapshot against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	data, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
