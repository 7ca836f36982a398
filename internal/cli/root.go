package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// RunOptions holds the flags of the root command, which executes a
// command file.
type RunOptions struct {
	*RootOptions
	ConfigFile  string
	OutDir      string
	Database    string
	MetricsFile string

	// RunIDGenerator allows overriding the run id source (for testing).
	// If nil, defaults to engine.UUIDv7Generator.
	RunIDGenerator engine.RunIDGenerator

	// Sleep replaces time.Sleep for msleep commands (for testing).
	Sleep func(time.Duration)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tally CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RunOptions{RootOptions: &RootOptions{}})
}

func newRootCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tally <commandFile> <numThreads> <numCounters> <logMode>",
		Short: "tally - concurrent command dispatcher",
		Long: `Run a command file against a bank of shared counters.

Each "worker" line becomes a job executed by one of numThreads worker
threads. "dispatcher_wait" blocks until every submitted job has finished,
"dispatcher_msleep N" pauses the dispatcher. Final counter values are
written to countNN.txt; with logMode 1 the dispatcher and every worker
also write timestamped logs plus stats.txt.

A command file whose name matches a subcommand (validate, compile, test,
history, help) must be given with a path, e.g. ./test.

Exit codes:
  0 - Run completed
  1 - Parse or run failure
  2 - Usage or configuration error

Examples:
  tally cmds.txt 4 10 0
  tally cmds.txt 8 3 1 --out ./results
  tally cmds.txt 8 3 1 --db ./runs.db --metrics-file ./tally.prom
  tally validate cmds.txt 10`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTally(opts, args, cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Run flags
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "YAML file with defaults for the run flags")
	cmd.Flags().StringVar(&opts.OutDir, "out", ".", "directory for counter files and logs")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run ledger (optional)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file (optional)")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts.RootOptions))
	cmd.AddCommand(NewCompileCommand(opts.RootOptions))
	cmd.AddCommand(NewTestCommand(opts.RootOptions))
	cmd.AddCommand(NewHistoryCommand(opts.RootOptions))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger returns the diagnostics logger. Warnings and errors only,
// debug output with --verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
