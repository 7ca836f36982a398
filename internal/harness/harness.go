// Package harness runs end-to-end scenarios against the real engine.
//
// A scenario is a YAML file describing a command file (literal lines, plus
// optionally generated and shuffled lines), the pool and bank sizes, and the
// expected outcome. Run writes the command file into a private directory,
// compiles it, executes it with a fixed run id, persists the counter files,
// and checks the files it reads back against the expectations.
//
// Each scenario runs in its own temporary directory for isolation.
package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/tally/internal/compiler"
	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/ir"
	"github.com/roach88/tally/internal/stats"
	"github.com/roach88/tally/internal/testutil"
)

// CommandFileName is the name Run gives the scenario's command file.
const CommandFileName = "commands.txt"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expectation matched.
	Pass bool `json:"pass"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	RunID       string      `json:"run_id,omitempty"`
	ProgramHash string      `json:"program_hash,omitempty"`
	Program     *ir.Program `json:"-"`
	Jobs        int         `json:"jobs"`
	Barriers    int         `json:"barriers"`

	// Counters are the values read back from the persisted counter files.
	Counters []int64 `json:"counters,omitempty"`

	// ParseError is the code of the compile failure, if compilation failed.
	ParseError string `json:"parse_error,omitempty"`

	// StatsLines is the number of lines in stats.txt (log: true only).
	StatsLines int `json:"stats_lines,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Run executes a scenario in a fresh temporary directory.
//
// The returned error reports harness failures (I/O, engine defects);
// expectation mismatches are reported in Result.Errors.
func Run(s *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "tally-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)
	return RunIn(s, dir, nil)
}

// RunIn executes a scenario inside dir, leaving its artifacts there:
// dir/commands.txt and everything the run writes under dir/out.
// A nil logger discards diagnostics.
func RunIn(s *Scenario, dir string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "harness", "scenario", s.Name)

	cmdPath := filepath.Join(dir, CommandFileName)
	if err := os.WriteFile(cmdPath, []byte(s.CommandFile()), 0644); err != nil {
		return nil, fmt.Errorf("failed to write command file: %w", err)
	}
	outDir := filepath.Join(dir, "out")

	result := NewResult()
	prog, err := compiler.CompileFile(cmdPath, s.Counters)
	if err != nil {
		var pe *compiler.ParseError
		if !errors.As(err, &pe) {
			return nil, err
		}
		logger.Debug("compile failed", "error", err)
		result.ParseError = pe.Code
		checkParseFailure(s, result, outDir, err)
		return result, nil
	}
	if s.Expect.ParseError != "" {
		result.AddError(fmt.Sprintf("expected parse error %q, but the file compiled", s.Expect.ParseError))
		return result, nil
	}

	result.Program = prog
	result.ProgramHash, err = ir.ProgramHash(prog)
	if err != nil {
		return nil, err
	}

	counters, err := counter.New(s.Counters)
	if err != nil {
		return nil, err
	}

	opts := []engine.EngineOption{
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(s.RunID)),
		engine.WithLogger(logger),
	}
	var statsLog *stats.Logger
	if s.Log {
		statsLog, err = stats.New(outDir, s.Threads)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithEvents(statsLog))
	}

	eng, err := engine.New(counters, s.Threads, opts...)
	if err != nil {
		statsLog.Close()
		return nil, err
	}

	res, runErr := eng.Run(prog)
	_, closeErr := statsLog.Close()
	if err := errors.Join(runErr, closeErr); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	result.RunID = res.RunID
	result.Jobs = res.Jobs
	result.Barriers = res.Barriers

	if err := counters.Persist(outDir); err != nil {
		return nil, err
	}
	result.Counters = make([]int64, s.Counters)
	for id := range result.Counters {
		v, err := counter.ReadFile(outDir, id)
		if err != nil {
			return nil, fmt.Errorf("read back counter %d: %w", id, err)
		}
		result.Counters[id] = v
	}

	if s.Log {
		result.StatsLines = len(readLines(filepath.Join(outDir, stats.StatsFile)))
	}

	for _, msg := range Evaluate(s.Expect, result) {
		result.AddError(msg)
	}
	logger.Debug("scenario finished", "pass", result.Pass, "jobs", result.Jobs)
	return result, nil
}

// checkParseFailure verifies a compile failure was expected and that the
// failed compile left no counter files behind.
func checkParseFailure(s *Scenario, result *Result, outDir string, err error) {
	if s.Expect.ParseError == "" {
		result.AddError(fmt.Sprintf("unexpected parse error: %v", err))
		return
	}
	if result.ParseError != s.Expect.ParseError {
		result.AddError(fmt.Sprintf("parse error: expected %q, got %q (%v)", s.Expect.ParseError, result.ParseError, err))
	}
	for id := 0; id < s.Counters; id++ {
		if _, statErr := os.Stat(filepath.Join(outDir, counter.FileName(id))); statErr == nil {
			result.AddError(fmt.Sprintf("counter file %s written despite parse error", counter.FileName(id)))
		}
	}
}
