package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	Program  string // optional - filter to one program hash
	File     string // optional - filter to one command file path
	Status   string // optional - ok or failed
	RunID    string // optional - show a single run with its counters
}

// HistoryEntry is one run in the history output.
type HistoryEntry struct {
	RunID       string    `json:"run_id"`
	CommandFile string    `json:"command_file"`
	ProgramHash string    `json:"program_hash"`
	Threads     int       `json:"threads"`
	Counters    int       `json:"counters"`
	LogMode     int       `json:"log_mode"`
	Jobs        int       `json:"jobs"`
	Barriers    int       `json:"barriers"`
	Actions     int64     `json:"actions"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Values      []int64   `json:"values,omitempty"`
}

// HistoryResult holds the history output.
type HistoryResult struct {
	Runs []HistoryEntry `json:"runs"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded in a run ledger (see --db on the root command).

Runs are listed newest first. --program, --file and --status narrow the
list and may be combined. --run shows a single run including its final
counters.

Examples:
  tally history --db ./runs.db
  tally history --db ./runs.db --limit 5
  tally history --db ./runs.db --program 3f9a...
  tally history --db ./runs.db --file cmds.txt --status failed
  tally history --db ./runs.db --run 0192f0c4-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run ledger (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 = all)")
	cmd.Flags().StringVar(&opts.Program, "program", "", "only runs of this program hash")
	cmd.Flags().StringVar(&opts.File, "file", "", "only runs of this command file")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only runs with this status (ok|failed)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show one run with its counter values")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Status != "" && opts.Status != store.StatusOK && opts.Status != store.StatusFailed {
		return formatter.Fail(ExitCommandError, ErrCodeConfig,
			fmt.Sprintf("invalid status %q: must be %s or %s", opts.Status, store.StatusOK, store.StatusFailed), nil, nil)
	}

	// store.Open would create a missing ledger.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, fmt.Sprintf("database not found: %s", opts.Database), nil, err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to open database", nil, err)
	}
	defer st.Close()

	runs, err := loadHistory(ctx, st, opts)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return formatter.Fail(ExitFailure, ErrCodeNoRun, err.Error(), nil, err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to read runs", nil, err)
	}
	formatter.VerboseLog("Loaded %d run(s) from %s", len(runs), opts.Database)

	result := HistoryResult{Runs: make([]HistoryEntry, len(runs))}
	for i, r := range runs {
		result.Runs[i] = toHistoryEntry(r)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputHistoryText(formatter, result, opts.RunID != "")
}

func loadHistory(ctx context.Context, st *store.Store, opts *HistoryOptions) ([]store.Run, error) {
	switch {
	case opts.RunID != "":
		run, err := st.GetRun(ctx, opts.RunID)
		if err != nil {
			return nil, err
		}
		return []store.Run{run}, nil
	default:
		return st.FindRuns(ctx, store.RunFilter{
			ProgramHash: opts.Program,
			CommandFile: opts.File,
			Status:      opts.Status,
			Limit:       opts.Limit,
		})
	}
}

func toHistoryEntry(r store.Run) HistoryEntry {
	return HistoryEntry{
		RunID:       r.ID,
		CommandFile: r.CommandFile,
		ProgramHash: r.ProgramHash,
		Threads:     r.Threads,
		Counters:    r.NumCounters,
		LogMode:     r.LogMode,
		Jobs:        r.Jobs,
		Barriers:    r.Barriers,
		Actions:     r.Actions,
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration.Milliseconds(),
		Status:      r.Status,
		Error:       r.Error,
		Values:      r.Values,
	}
}

func outputHistoryText(formatter *OutputFormatter, result HistoryResult, detail bool) error {
	w := formatter.Writer
	if len(result.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	for _, r := range result.Runs {
		mark := "✓"
		if r.Status != store.StatusOK {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s  %s  %s  threads=%d counters=%d jobs=%d barriers=%d %dms\n",
			mark, r.RunID, r.StartedAt.UTC().Format(time.RFC3339), r.CommandFile,
			r.Threads, r.Counters, r.Jobs, r.Barriers, r.DurationMS)
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		}
		if detail {
			fmt.Fprintf(w, "  program: %s\n", r.ProgramHash)
			vals := make([]string, len(r.Values))
			for i, v := range r.Values {
				vals[i] = fmt.Sprintf("count%02d=%d", i, v)
			}
			fmt.Fprintf(w, "  values: %s\n", strings.Join(vals, " "))
		}
	}
	return nil
}
