package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tally/internal/queryir"
	"github.com/roach88/tally/internal/querysql"
)

// ErrRunNotFound is returned by GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

var runColumnList = []string{
	"seq", "id", "command_file", "program_hash", "threads", "counters", "log_mode", "jobs", "barriers",
	"actions", "started_at", "duration_ms", "status", "error", "engine_version", "ir_version",
}

var runColumns = strings.Join(runColumnList, ", ")

// RunFilter narrows a ledger listing. Zero fields match everything.
type RunFilter struct {
	ProgramHash string
	CommandFile string
	Status      string
	Limit       int // <= 0 means all
}

func (f RunFilter) query() queryir.Select {
	var preds []queryir.Predicate
	if f.ProgramHash != "" {
		preds = append(preds, queryir.Equals{Field: "program_hash", Value: queryir.String(f.ProgramHash)})
	}
	if f.CommandFile != "" {
		preds = append(preds, queryir.Equals{Field: "command_file", Value: queryir.String(f.CommandFile)})
	}
	if f.Status != "" {
		preds = append(preds, queryir.Equals{Field: "status", Value: queryir.String(f.Status)})
	}
	return queryir.Select{
		From:    "runs",
		Columns: runColumnList,
		Filter:  queryir.Where(preds...),
		OrderBy: []queryir.Order{{Field: "seq", Desc: true}},
		Limit:   max(f.Limit, 0),
	}
}

// FindRuns returns the runs matching f, newest first.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) FindRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	query, args, err := querysql.NewSQLCompiler("seq").Compile(f.query())
	if err != nil {
		return nil, fmt.Errorf("compile run query: %w", err)
	}
	return s.queryRuns(ctx, query, args...)
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.FindRuns(ctx, RunFilter{Limit: limit})
}

// ListRunsByProgram returns runs of one program (by hash), newest first.
func (s *Store) ListRunsByProgram(ctx context.Context, programHash string) ([]Run, error) {
	return s.FindRuns(ctx, RunFilter{ProgramHash: programHash})
}

// GetRun returns one run with its final counter values.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	values, err := s.RunCounters(ctx, id)
	if err != nil {
		return Run{}, err
	}
	run.Values = values
	return run, nil
}

// RunCounters returns the final counter values of a run, index = counter id.
func (s *Store) RunCounters(ctx context.Context, runID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT counter_id, value
		FROM run_counters
		WHERE run_id = ?
		ORDER BY counter_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run counters: %w", err)
	}
	defer rows.Close()

	values := []int64{}
	for rows.Next() {
		var id int
		var v int64
		if err := rows.Scan(&id, &v); err != nil {
			return nil, fmt.Errorf("scan run counter: %w", err)
		}
		if id != len(values) {
			return nil, fmt.Errorf("run %s: counter %d missing", runID, len(values))
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run counters: %w", err)
	}
	return values, nil
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var startedAt string
	var durationMS int64
	err := sc.Scan(
		&run.Seq,
		&run.ID,
		&run.CommandFile,
		&run.ProgramHash,
		&run.Threads,
		&run.NumCounters,
		&run.LogMode,
		&run.Jobs,
		&run.Barriers,
		&run.Actions,
		&startedAt,
		&durationMS,
		&run.Status,
		&run.Error,
		&run.EngineVersion,
		&run.IRVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
