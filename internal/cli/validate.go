package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/compiler"
	"github.com/roach88/tally/internal/config"
	"github.com/roach88/tally/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool               `json:"valid"`
	Commands    int                `json:"commands"`
	Jobs        int                `json:"jobs"`
	Barriers    int                `json:"barriers"`
	ProgramHash string             `json:"program_hash,omitempty"`
	Error       *ParseErrorDetails `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <commandFile> <numCounters>",
		Short: "Check a command file without running it",
		Long: `Compile a command file against a bank of numCounters counters and
report the first problem found. No job runs and no file is written.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path, rawCounters string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	prog, err := compileArgs(formatter, path, rawCounters)
	if err != nil {
		var pe *compiler.ParseError
		if !errors.As(err, &pe) {
			return err
		}
		return outputValidationError(formatter, pe)
	}

	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to hash program", err)
	}
	return outputValidateSuccess(formatter, ValidationResult{
		Valid:       true,
		Commands:    len(prog.Commands),
		Jobs:        prog.JobCount(),
		Barriers:    prog.BarrierCount(),
		ProgramHash: hash,
	})
}

// compileArgs parses numCounters and compiles path. Argument and I/O
// problems are reported through formatter and returned as ExitErrors;
// a *compiler.ParseError is returned unreported.
func compileArgs(formatter *OutputFormatter, path, rawCounters string) (*ir.Program, error) {
	n, err := config.ParseInt("numCounters", rawCounters)
	if err == nil && (n < 0 || n > config.MaxCounters) {
		err = fmt.Errorf("numCounters must be in [0, %d], got %d", config.MaxCounters, n)
	}
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil, err)
	}

	formatter.VerboseLog("Compiling %s for %d counter(s)", path, n)
	prog, err := compiler.CompileFile(path, n)
	if err != nil {
		if compiler.IsParseError(err) {
			return nil, err
		}
		return nil, formatter.Fail(ExitCommandError, ErrCodeInput, err.Error(), nil, err)
	}
	return prog, nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Command file valid: %d command(s), %d job(s), %d barrier(s)\n",
		result.Commands, result.Jobs, result.Barriers)
	return nil
}

// outputValidationError outputs a parse failure.
func outputValidationError(formatter *OutputFormatter, pe *compiler.ParseError) error {
	details := parseDetails(pe)
	if formatter.Format == "json" {
		err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Error: &details},
			Error: &CLIError{
				Code:    ErrCodeParse,
				Message: pe.Error(),
			},
		})
		if err != nil {
			return err
		}
		// Validation failures = exit code 1
		return WrapExitError(ExitFailure, "validation failed", pe)
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "line %d\n", pe.Line)
	if pe.Text != "" {
		fmt.Fprintf(formatter.Writer, "  %s\n", pe.Text)
	}
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", pe.Code, pe.Message)

	return WrapExitError(ExitFailure, "validation failed", pe)
}
