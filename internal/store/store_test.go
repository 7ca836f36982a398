package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testRun creates a run with minimal required fields.
func testRun(id string, values ...int64) Run {
	return Run{
		ID:            id,
		CommandFile:   "cmds.txt",
		ProgramHash:   "program-hash",
		Threads:       4,
		NumCounters:   len(values),
		LogMode:       1,
		Jobs:          3,
		Barriers:      1,
		Actions:       6,
		StartedAt:     time.Date(2025, 1, 2, 3, 4, 5, 6000000, time.UTC),
		Duration:      1500 * time.Millisecond,
		EngineVersion: "0.1.0",
		IRVersion:     "1",
		Values:        values,
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", fmt.Sprint(currentSchemaVersion)))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.RecordRun(context.Background(), testRun("run-1", 1))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	runs, err := s2.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "reopening keeps history")
}

func TestOpen_MigrationIndex(t *testing.T) {
	s := createTestStore(t)

	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_runs_program_hash'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "idx_runs_program_hash", name)
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "ledger.db"))
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	var s Store
	assert.NoError(t, s.Close())
}

func TestRecordRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", 2, 0, -3)
	inserted, err := s.RecordRun(ctx, run)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.CommandFile, got.CommandFile)
	assert.Equal(t, run.ProgramHash, got.ProgramHash)
	assert.Equal(t, 4, got.Threads)
	assert.Equal(t, 3, got.NumCounters)
	assert.Equal(t, 1, got.LogMode)
	assert.Equal(t, 3, got.Jobs)
	assert.Equal(t, 1, got.Barriers)
	assert.Equal(t, int64(6), got.Actions)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, StatusOK, got.Status, "empty status defaults to ok")
	assert.Empty(t, got.Error)
	assert.Equal(t, []int64{2, 0, -3}, got.Values)
}

func TestRecordRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inserted, err := s.RecordRun(ctx, testRun("run-1", 5))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.RecordRun(ctx, testRun("run-1", 99))
	require.NoError(t, err)
	assert.False(t, inserted)

	values, err := s.RunCounters(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, values, "first record wins")
}

func TestRecordRun_Failed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := testRun("run-bad")
	run.Status = StatusFailed
	run.Error = "COUNTER_FAULT: counter mutation failed"
	_, err := s.RecordRun(ctx, run)
	require.NoError(t, err)

	got, err := s.GetRun(ctx, "run-bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, run.Error, got.Error)
	assert.Empty(t, got.Values)
}

func TestRecordRun_RejectsInvalidStatus(t *testing.T) {
	s := createTestStore(t)
	run := testRun("run-x")
	run.Status = "maybe"
	_, err := s.RecordRun(context.Background(), run)
	assert.Error(t, err)

	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs, "failed insert leaves nothing behind")
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := s.RecordRun(ctx, testRun(fmt.Sprintf("run-%d", i), int64(i)))
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-1", runs[2].ID)
	assert.Nil(t, runs[0].Values, "list does not load counters")

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestListRuns_Empty(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestListRunsByProgram(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := testRun("run-a")
	a.ProgramHash = "hash-a"
	b := testRun("run-b")
	b.ProgramHash = "hash-b"
	a2 := testRun("run-a2")
	a2.ProgramHash = "hash-a"
	for _, r := range []Run{a, b, a2} {
		_, err := s.RecordRun(ctx, r)
		require.NoError(t, err)
	}

	runs, err := s.ListRunsByProgram(ctx, "hash-a")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-a2", runs[0].ID)
	assert.Equal(t, "run-a", runs[1].ID)
}

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunCounters_ForeignKey(t *testing.T) {
	s := createTestStore(t)
	_, err := s.db.Exec(`INSERT INTO run_counters (run_id, counter_id, value) VALUES ('ghost', 0, 1)`)
	assert.Error(t, err, "counters require an existing run")
}

func TestRunCounters_Gap(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.RecordRun(ctx, testRun("run-gap"))
	require.NoError(t, err)

	_, err = s.db.Exec(`INSERT INTO run_counters (run_id, counter_id, value) VALUES ('run-gap', 1, 7)`)
	require.NoError(t, err)

	_, err = s.RunCounters(ctx, "run-gap")
	assert.ErrorContains(t, err, "counter 0 missing")
}

func TestScanRun_NoRows(t *testing.T) {
	s := createTestStore(t)
	_, err := scanRun(s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs WHERE id = 'none'`))
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestFindRuns_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ok := testRun("run-ok")
	failed := testRun("run-failed")
	failed.Status = StatusFailed
	failed.Error = "boom"
	other := testRun("run-other")
	other.CommandFile = "other.txt"
	for _, r := range []Run{ok, failed, other} {
		_, err := s.RecordRun(ctx, r)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{"all", RunFilter{}, []string{"run-other", "run-failed", "run-ok"}},
		{"status", RunFilter{Status: StatusFailed}, []string{"run-failed"}},
		{"file", RunFilter{CommandFile: "cmds.txt"}, []string{"run-failed", "run-ok"}},
		{"file and status", RunFilter{CommandFile: "cmds.txt", Status: StatusOK}, []string{"run-ok"}},
		{"limit", RunFilter{Limit: 1}, []string{"run-other"}},
		{"no match", RunFilter{ProgramHash: "missing"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.FindRuns(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRunFilter_QueryIsParameterized(t *testing.T) {
	q := RunFilter{ProgramHash: "x' OR '1'='1", Limit: 5}.query()
	assert.Equal(t, runColumnList, q.Columns)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 0, RunFilter{Limit: -3}.query().Limit)

	runs, err := createTestStore(t).FindRuns(context.Background(), RunFilter{ProgramHash: "x' OR '1'='1"})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
