package store

import (
	"context"
	"fmt"
	"time"
)

// Run outcome values stored in runs.status.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one ledger entry.
type Run struct {
	Seq           int64 // assigned by the ledger
	ID            string
	CommandFile   string
	ProgramHash   string
	Threads       int
	NumCounters   int
	LogMode       int
	Jobs          int
	Barriers      int
	Actions       int64
	StartedAt     time.Time
	Duration      time.Duration
	Status        string
	Error         string
	EngineVersion string
	IRVersion     string

	// Values holds the final counter values, index = counter id.
	// Only populated by GetRun.
	Values []int64
}

// RecordRun inserts run and its final counter values in one transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: recording the same run
// id twice keeps the first entry and reports inserted=false.
func (s *Store) RecordRun(ctx context.Context, run Run) (inserted bool, err error) {
	if run.Status == "" {
		run.Status = StatusOK
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, command_file, program_hash, threads, counters, log_mode, jobs, barriers, actions,
		 started_at, duration_ms, status, error, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.CommandFile,
		run.ProgramHash,
		run.Threads,
		run.NumCounters,
		run.LogMode,
		run.Jobs,
		run.Barriers,
		run.Actions,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.Duration.Milliseconds(),
		run.Status,
		run.Error,
		run.EngineVersion,
		run.IRVersion,
	)
	if err != nil {
		return false, fmt.Errorf("record run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record run: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_counters (run_id, counter_id, value) VALUES (?, ?, ?)
	`)
	if err != nil {
		return false, fmt.Errorf("record run: prepare counters: %w", err)
	}
	defer stmt.Close()

	for id, v := range run.Values {
		if _, err := stmt.ExecContext(ctx, run.ID, id, v); err != nil {
			return false, fmt.Errorf("record run: counter %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("record run: commit: %w", err)
	}
	return true, nil
}
