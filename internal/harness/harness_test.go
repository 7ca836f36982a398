package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/stats"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestGoldenScenarios(t *testing.T) {
	for _, name := range []string{"scenario_a", "scenario_c", "nested_repeat"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata/scenarios", name+".yaml"))
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func intPtr(n int) *int { return &n }

func TestRunIn_LeavesArtifacts(t *testing.T) {
	dir := t.TempDir()
	s := &Scenario{
		Name:        "artifacts",
		Description: "check files",
		Threads:     2,
		Counters:    3,
		Log:         true,
		Lines:       []string{"worker increment 2", "dispatcher_wait", "worker decrement 0"},
		Expect: Expectation{
			Counters:   map[int]int64{0: -1, 2: 1},
			Jobs:       intPtr(2),
			StatsLines: 5,
		},
	}

	result, err := RunIn(s, dir, nil)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "test-run-default", result.RunID)
	assert.Len(t, result.ProgramHash, 64)

	out := filepath.Join(dir, "out")
	for id := 0; id < 3; id++ {
		assert.FileExists(t, filepath.Join(out, counter.FileName(id)))
	}
	for _, name := range []string{stats.DispatcherFile, stats.StatsFile, stats.ThreadFile(0), stats.ThreadFile(1)} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	data, err := os.ReadFile(filepath.Join(dir, CommandFileName))
	require.NoError(t, err)
	assert.Equal(t, "worker increment 2\ndispatcher_wait\nworker decrement 0\n", string(data))
}

func TestRunIn_NoLogFilesWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	s := &Scenario{
		Name: "quiet", Description: "no logs", Threads: 1, Counters: 1,
		Lines: []string{"worker increment 0"},
	}
	result, err := RunIn(s, dir, nil)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	out := filepath.Join(dir, "out")
	assert.NoFileExists(t, filepath.Join(out, stats.StatsFile))
	assert.NoFileExists(t, filepath.Join(out, stats.DispatcherFile))
	assert.NoFileExists(t, filepath.Join(out, stats.ThreadFile(0)))
}

func TestRun_ReportsMismatches(t *testing.T) {
	s := &Scenario{
		Name: "wrong", Description: "wrong expectations", Threads: 2, Counters: 2,
		Lines: []string{"worker increment 0", "worker increment 1"},
		Expect: Expectation{
			Counters: map[int]int64{0: 5},
			Jobs:     intPtr(3),
			Barriers: intPtr(4),
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"counter 0: expected 5, got 1",
		"counter 1: expected 0, got 1",
		"jobs: expected 3, got 2",
		"barriers: expected 4, got 1",
	}, result.Errors)
}

func TestRun_UnexpectedParseError(t *testing.T) {
	s := &Scenario{
		Name: "typo", Description: "typo", Threads: 1, Counters: 1,
		Lines: []string{"worker incremnt 0"},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "unknown_action", result.ParseError)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "unexpected parse error"))
}

func TestRun_ExpectedParseErrorMissing(t *testing.T) {
	s := &Scenario{
		Name: "fine", Description: "compiles", Threads: 1, Counters: 1,
		Lines:  []string{"worker increment 0"},
		Expect: Expectation{ParseError: "unknown_action"},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "but the file compiled")
}

func TestRun_WrongParseErrorCode(t *testing.T) {
	s := &Scenario{
		Name: "code", Description: "code mismatch", Threads: 1, Counters: 1,
		Lines:  []string{"worker increment x"},
		Expect: Expectation{ParseError: "counter_out_of_range"},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "invalid_operand", result.ParseError)
}

func TestEvaluate_BankTooSmall(t *testing.T) {
	errs := Evaluate(Expectation{Counters: map[int]int64{4: 1}}, &Result{Counters: []int64{0}})
	assert.Equal(t, []string{"counter 4: expected 1, but the bank has 1 counters"}, errs)
}

func TestEvaluate_StatsLines(t *testing.T) {
	errs := Evaluate(Expectation{StatsLines: 5}, &Result{StatsLines: 3})
	assert.Equal(t, []string{"stats.txt: expected at least 5 lines, got 3"}, errs)
	assert.Empty(t, Evaluate(Expectation{StatsLines: 5}, &Result{StatsLines: 5}))
}

func TestMarshalSnapshot_WithoutProgram(t *testing.T) {
	data, err := MarshalSnapshot("empty", &Result{Counters: []int64{}, Jobs: 0, Barriers: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"barriers":1,"counters":[],"jobs":0,"scenario_name":"empty"}`, string(data))
}
