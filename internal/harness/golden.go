package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tally/internal/ir"
)

// Snapshot is the deterministic part of a scenario run: the compiled
// program and the final counters. Completion order is not part of it.
type Snapshot struct {
	ScenarioName string
	RunID        string
	Program      *ir.Program
	Jobs         int
	Barriers     int
	Counters     []int64
}

// toCanonicalMap converts a Snapshot for canonical JSON serialization.
func (s *Snapshot) toCanonicalMap() map[string]any {
	counters := make([]any, len(s.Counters))
	for i, v := range s.Counters {
		counters[i] = v
	}
	m := map[string]any{
		"scenario_name": s.ScenarioName,
		"jobs":          s.Jobs,
		"barriers":      s.Barriers,
		"counters":      counters,
	}
	if s.RunID != "" {
		m["run_id"] = s.RunID
	}
	if s.Program != nil {
		m["program"] = s.Program
	}
	return m
}

// MarshalSnapshot renders a result as canonical JSON.
func MarshalSnapshot(name string, r *Result) ([]byte, error) {
	snap := Snapshot{
		ScenarioName: name,
		RunID:        r.RunID,
		Program:      r.Program,
		Jobs:         r.Jobs,
		Barriers:     r.Barriers,
		Counters:     r.Counters,
	}
	return ir.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails or the scenario did not pass.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s failed: %v", scenario.Name, result.Errors)
	}

	data, err := MarshalSnapshot(scenario.Name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
