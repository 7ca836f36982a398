package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/stats"
	"github.com/roach88/tally/internal/store"
	"github.com/roach88/tally/internal/testutil"
)

type runResponse struct {
	Status string    `json:"status"`
	RunID  string    `json:"run_id"`
	Data   RunReport `json:"data"`
	Error  *CLIError `json:"error"`
}

func readCounters(t *testing.T, dir string, n int) []int64 {
	t.Helper()
	vals := make([]int64, n)
	for id := range vals {
		v, err := counter.ReadFile(dir, id)
		require.NoError(t, err)
		vals[id] = v
	}
	return vals
}

func TestRun_WritesCounterFiles(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt",
		"worker increment 0; increment 1",
		"dispatcher_wait",
		"worker repeat 3; increment 2",
		"worker decrement 0",
	)
	out := filepath.Join(dir, "out")

	stdout, _, err := execute(t, nil, cmds, "2", "3", "0", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Run run-1: 3 job(s), 2 barrier(s)")
	assert.Contains(t, stdout, "counters: 0 1 3")

	assert.Equal(t, []int64{0, 1, 3}, readCounters(t, out, 3))
	assert.NoFileExists(t, filepath.Join(out, stats.StatsFile))
	assert.NoFileExists(t, filepath.Join(out, stats.DispatcherFile))
}

func TestRun_LogModeWritesLogs(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt",
		"worker increment 0",
		"worker increment 0",
	)
	out := filepath.Join(dir, "out")

	stdout, _, err := execute(t, nil, cmds, "2", "1", "1", "--out", out, "--format", "json")
	require.NoError(t, err)

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, []int64{2}, resp.Data.Counters)
	require.NotNil(t, resp.Data.Turnaround)
	assert.Equal(t, 2, resp.Data.Turnaround.Jobs)

	for _, name := range []string{stats.DispatcherFile, stats.ThreadFile(0), stats.ThreadFile(1)} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	assert.Len(t, testutil.ReadLines(t, filepath.Join(out, stats.StatsFile)), 5)

	dispatcher := testutil.ReadLines(t, filepath.Join(out, stats.DispatcherFile))
	require.Len(t, dispatcher, 3)
	assert.Contains(t, dispatcher[1], "read cmd line: worker increment 0")
}

func TestRun_ParseErrorRunsNothing(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt",
		"worker increment 0",
		"worker increment 9",
	)
	out := filepath.Join(dir, "out")

	stdout, _, err := execute(t, nil, cmds, "1", "3", "1", "--out", out)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E_PARSE]")
	assert.Contains(t, stdout, "line 2")

	assert.NoFileExists(t, filepath.Join(out, counter.FileName(0)))
	assert.NoFileExists(t, filepath.Join(out, stats.DispatcherFile))
}

func TestRun_ParseErrorJSON(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt", "worker incremnt 0")

	stdout, _, err := execute(t, nil, cmds, "1", "1", "0", "--out", dir, "--format", "json")
	require.Error(t, err)

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string            `json:"code"`
			Details ParseErrorDetails `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeParse, resp.Error.Code)
	assert.Equal(t, 1, resp.Error.Details.Line)
	assert.Equal(t, "unknown_action", resp.Error.Details.Code)
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"too few args", []string{"cmds.txt", "1"}, "expected 4 arguments"},
		{"zero threads", []string{"cmds.txt", "0", "3", "0"}, "numThreads must be >= 1, got 0"},
		{"too many threads", []string{"cmds.txt", "5000", "3", "0"}, "numThreads must be <= 4096, got 5000"},
		{"too many counters", []string{"cmds.txt", "1", "101", "0"}, "numCounters must be <= 100, got 101"},
		{"bad log mode", []string{"cmds.txt", "1", "3", "2"}, "logMode must be one of [0 1], got 2"},
		{"non-numeric", []string{"cmds.txt", "four", "3", "0"}, `numThreads must be an integer, got "four"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, nil, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, stdout, "Error [E_CONFIG]")
		})
	}
}

func TestRun_MissingCommandFile(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := execute(t, nil, filepath.Join(dir, "missing.txt"), "1", "1", "0", "--out", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E_INPUT]")
}

func TestRun_ConfigFileSuppliesFlags(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt", "worker increment 1")
	out := filepath.Join(dir, "from-config")
	cfgPath := filepath.Join(dir, "tally.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("out: "+out+"\nformat: json\n"), 0644))

	stdout, _, err := execute(t, nil, cmds, "1", "2", "0", "--config", cfgPath)
	require.NoError(t, err)

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, out, resp.Data.OutDir)
	assert.Equal(t, []int64{0, 1}, readCounters(t, out, 2))
}

func TestRun_FlagOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt", "worker increment 0")
	cfgPath := filepath.Join(dir, "tally.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("out: "+filepath.Join(dir, "ignored")+"\n"), 0644))
	out := filepath.Join(dir, "flag")

	_, _, err := execute(t, nil, cmds, "1", "1", "0", "--config", cfgPath, "--out", out)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, counter.FileName(0)))
	assert.NoDirExists(t, filepath.Join(dir, "ignored"))
}

func TestRun_MissingConfigFile(t *testing.T) {
	_, _, err := execute(t, nil, "cmds.txt", "1", "1", "0", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_SleepsThroughInjectedSleep(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt",
		"dispatcher_msleep 50",
		"worker msleep 20; increment 0",
	)
	rec := &sleepRecorder{}
	opts := testRunOptions("run-sleep")
	opts.Sleep = rec.Sleep

	_, _, err := execute(t, opts, cmds, "1", "1", "0", "--out", dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []time.Duration{50 * time.Millisecond, 20 * time.Millisecond}, rec.Calls())
}

func TestRun_RecordsLedgerAndMetrics(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt",
		"worker increment 0; increment 2",
		"dispatcher_wait",
		"worker decrement 1",
	)
	dbPath := filepath.Join(dir, "runs.db")
	metricsPath := filepath.Join(dir, "tally.prom")

	_, _, err := execute(t, testRunOptions("run-ledger"), cmds, "3", "3", "0",
		"--out", dir, "--db", dbPath, "--metrics-file", metricsPath)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.GetRun(context.Background(), "run-ledger")
	require.NoError(t, err)
	assert.Equal(t, store.StatusOK, run.Status)
	assert.Equal(t, cmds, run.CommandFile)
	assert.Equal(t, 3, run.Threads)
	assert.Equal(t, 2, run.Jobs)
	assert.Equal(t, 2, run.Barriers)
	assert.Equal(t, int64(3), run.Actions)
	assert.Len(t, run.ProgramHash, 64)
	assert.Equal(t, []int64{1, -1, 1}, run.Values)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tally_jobs_submitted_total")
	assert.Contains(t, string(data), `run_id="run-ledger"`)
}

func TestRun_SameRunIDRecordedOnce(t *testing.T) {
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt", "worker increment 0")
	dbPath := filepath.Join(dir, "runs.db")

	for i := 0; i < 2; i++ {
		_, _, err := execute(t, testRunOptions("run-dup"), cmds, "1", "1", "0", "--out", dir, "--db", dbPath)
		require.NoError(t, err)
	}

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRun_DeeplyNestedRepeatLine(t *testing.T) {
	const depth = 1_000_000
	dir := t.TempDir()
	cmds := testutil.WriteCommandFile(t, dir, "cmds.txt",
		"worker "+strings.Repeat("repeat 1;", depth)+"increment 0",
	)
	dbPath := filepath.Join(dir, "runs.db")

	stdout, _, err := execute(t, testRunOptions("run-deep"), cmds, "1", "1", "0", "--out", dir, "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, []int64{1}, resp.Data.Counters)
	assert.Len(t, resp.Data.ProgramHash, 64)
	assert.Equal(t, depth+1, resp.Data.Actions)
}

func TestRuntimeDetails(t *testing.T) {
	assert.Nil(t, runtimeDetails(nil))
	assert.Nil(t, runtimeDetails(errors.New("plain")))

	wrapped := fmt.Errorf("run: %w", engine.NewCounterFault(2, 7, counter.ErrOutOfRange))
	assert.Equal(t, &RuntimeErrorDetails{Code: "COUNTER_FAULT", Line: 7, Worker: 2}, runtimeDetails(wrapped))
}
