package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/compiler"
	"github.com/roach88/tally/internal/config"
	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/ir"
	"github.com/roach88/tally/internal/metrics"
	"github.com/roach88/tally/internal/stats"
	"github.com/roach88/tally/internal/store"
)

// RunReport summarizes a finished run.
type RunReport struct {
	RunID       string      `json:"run_id"`
	ProgramHash string      `json:"program_hash"`
	Threads     int         `json:"threads"`
	Jobs        int         `json:"jobs"`
	Barriers    int         `json:"barriers"`
	Actions     int         `json:"actions"`
	DurationMS  int64       `json:"duration_ms"`
	Counters    []int64     `json:"counters"`
	OutDir      string      `json:"out_dir"`
	Turnaround  *Turnaround `json:"turnaround,omitempty"`
}

// Turnaround mirrors stats.txt. Only present when logging is enabled.
type Turnaround struct {
	Jobs    int     `json:"jobs"`
	SumMS   int64   `json:"sum_ms"`
	MinMS   int64   `json:"min_ms"`
	AvgMS   float64 `json:"avg_ms"`
	MaxMS   int64   `json:"max_ms"`
	TotalMS int64   `json:"total_running_ms"`
}

// ParseErrorDetails is the machine-readable form of a compile failure.
type ParseErrorDetails struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message"`
}

func parseDetails(pe *compiler.ParseError) ParseErrorDetails {
	return ParseErrorDetails{Line: pe.Line, Code: pe.Code, Text: pe.Text, Message: pe.Message}
}

// RuntimeErrorDetails is the machine-readable form of an engine fault.
type RuntimeErrorDetails struct {
	Code   string `json:"code"`
	Line   int    `json:"line,omitempty"`
	Worker int    `json:"worker"`
}

// runtimeDetails returns nil unless err carries an *engine.RuntimeError.
func runtimeDetails(err error) *RuntimeErrorDetails {
	var re *engine.RuntimeError
	if !errors.As(err, &re) {
		return nil
	}
	return &RuntimeErrorDetails{Code: string(re.Code), Line: re.Line, Worker: re.Worker}
}

func runTally(opts *RunOptions, args []string, cmd *cobra.Command) error {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return WrapExitError(ExitCommandError, "failed to bind flags", err)
	}
	if err := config.ReadFile(v, opts.ConfigFile); err != nil {
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	cfg, err := config.Load(v, args)
	if err != nil {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil, err)
	}

	formatter := &OutputFormatter{
		Format:    cfg.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   cfg.Verbose,
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose).With("component", "cli")

	prog, err := compiler.CompileFile(cfg.CommandFile, cfg.Counters)
	if err != nil {
		var pe *compiler.ParseError
		if errors.As(err, &pe) {
			return formatter.Fail(ExitFailure, ErrCodeParse, pe.Error(), parseDetails(pe), err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeInput, err.Error(), nil, err)
	}
	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to hash program", err)
	}
	formatter.VerboseLog("Compiled %d command(s), %d job(s) from %s", len(prog.Commands), prog.JobCount(), cfg.CommandFile)

	counters, err := counter.New(cfg.Counters)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil, err)
	}

	gen := opts.RunIDGenerator
	if gen == nil {
		gen = engine.UUIDv7Generator{}
	}
	runID := gen.Generate()

	engOpts := []engine.EngineOption{
		engine.WithRunID(runID),
		engine.WithLogger(logger),
	}
	if opts.Sleep != nil {
		engOpts = append(engOpts, engine.WithSleep(opts.Sleep))
	}

	var statsLog *stats.Logger
	if cfg.LogEnabled() {
		statsLog, err = stats.New(cfg.OutDir, cfg.Threads)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWrite, err.Error(), nil, err)
		}
		engOpts = append(engOpts, engine.WithEvents(statsLog))
	}

	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New(runID)
		engOpts = append(engOpts, engine.WithMetrics(m))
	}

	eng, err := engine.New(counters, cfg.Threads, engOpts...)
	if err != nil {
		_, _ = statsLog.Close()
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil, err)
	}

	res, runErr := eng.Run(prog)
	summary, closeErr := statsLog.Close()

	var persistErr error
	if res != nil {
		persistErr = counters.Persist(cfg.OutDir)
	}
	var metricsErr error
	if m != nil {
		metricsErr = m.WriteTextfile(cfg.MetricsFile)
	}

	var ledgerErr error
	if cfg.DBPath != "" {
		entry := ledgerEntry(cfg, runID, hash, prog, res, errors.Join(runErr, closeErr, persistErr))
		ledgerErr = recordRun(cmd.Context(), cfg.DBPath, entry, logger)
	}

	if err := errors.Join(runErr, closeErr, persistErr, metricsErr, ledgerErr); err != nil {
		var details any
		if rd := runtimeDetails(runErr); rd != nil {
			details = rd
		}
		return formatter.Fail(ExitFailure, ErrCodeRun, err.Error(), details, err)
	}

	report := RunReport{
		RunID:       res.RunID,
		ProgramHash: hash,
		Threads:     res.Threads,
		Jobs:        res.Jobs,
		Barriers:    res.Barriers,
		Actions:     res.Actions.Total(),
		DurationMS:  res.Duration.Milliseconds(),
		Counters:    res.Counters,
		OutDir:      cfg.OutDir,
	}
	if cfg.LogEnabled() {
		report.Turnaround = &Turnaround{
			Jobs:    summary.JobsCompleted,
			SumMS:   summary.TurnaroundSum.Milliseconds(),
			MinMS:   summary.TurnaroundMin.Milliseconds(),
			AvgMS:   summary.Average(),
			MaxMS:   summary.TurnaroundMax.Milliseconds(),
			TotalMS: summary.TotalRunning.Milliseconds(),
		}
	}
	return outputRunSuccess(formatter, report)
}

// ledgerEntry builds the run ledger row. res is nil when the engine refused
// to run the program.
func ledgerEntry(cfg *config.Config, runID, hash string, prog *ir.Program, res *engine.Result, runErr error) store.Run {
	entry := store.Run{
		ID:            runID,
		CommandFile:   cfg.CommandFile,
		ProgramHash:   hash,
		Threads:       cfg.Threads,
		NumCounters:   cfg.Counters,
		LogMode:       cfg.LogMode,
		Status:        store.StatusOK,
		StartedAt:     time.Now(),
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
	if res != nil {
		entry.Jobs = res.Jobs
		entry.Barriers = res.Barriers
		entry.Actions = int64(res.Actions.Total())
		entry.StartedAt = res.StartedAt
		entry.Duration = res.Duration
		entry.Values = res.Counters
	} else {
		entry.Jobs = prog.JobCount()
		entry.Barriers = prog.BarrierCount()
	}
	if runErr != nil {
		entry.Status = store.StatusFailed
		entry.Error = runErr.Error()
	}
	return entry
}

func recordRun(ctx context.Context, path string, entry store.Run, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing run ledger", "error", closeErr)
		}
	}()

	inserted, err := st.RecordRun(ctx, entry)
	if err != nil {
		return err
	}
	if !inserted {
		logger.Warn("run already recorded", "run_id", entry.ID)
	}
	logger.Debug("run recorded", "run_id", entry.ID, "db", path)
	return nil
}

func outputRunSuccess(formatter *OutputFormatter, report RunReport) error {
	if formatter.Format == "json" {
		return formatter.encode(CLIResponse{Status: "ok", Data: report, RunID: report.RunID})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Run %s: %d job(s), %d barrier(s), %d action(s) in %dms\n",
		report.RunID, report.Jobs, report.Barriers, report.Actions, report.DurationMS)
	if len(report.Counters) > 0 {
		vals := make([]string, len(report.Counters))
		for i, v := range report.Counters {
			vals[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(w, "  counters: %s\n", strings.Join(vals, " "))
	}
	fmt.Fprintf(w, "  written to %s\n", report.OutDir)
	return nil
}
