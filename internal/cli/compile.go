package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/compiler"
	"github.com/roach88/tally/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult describes a compiled command file.
type CompilationResult struct {
	ProgramHash string          `json:"program_hash"`
	Commands    int             `json:"commands"`
	Jobs        int             `json:"jobs"`
	Barriers    int             `json:"barriers"`
	Output      string          `json:"output,omitempty"`
	Program     json.RawMessage `json:"program,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <commandFile> <numCounters>",
		Short: "Compile a command file to canonical JSON",
		Long: `Compile a command file to its canonical JSON program.

The output is deterministic: the same command file always yields the same
bytes and the same program hash. Without --output the program is printed.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path, rawCounters string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	prog, err := compileArgs(formatter, path, rawCounters)
	if err != nil {
		var pe *compiler.ParseError
		if errors.As(err, &pe) {
			return formatter.Fail(ExitFailure, ErrCodeParse, pe.Error(), parseDetails(pe), pe)
		}
		return err
	}

	data, err := ir.MarshalCanonical(prog)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to marshal program", err)
	}
	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to hash program", err)
	}

	result := CompilationResult{
		ProgramHash: hash,
		Commands:    len(prog.Commands),
		Jobs:        prog.JobCount(),
		Barriers:    prog.BarrierCount(),
		Output:      opts.Output,
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, data, 0644); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWrite, fmt.Sprintf("writing output file: %v", err), nil, err)
		}
		formatter.VerboseLog("Wrote %d bytes to %s", len(data), opts.Output)
	} else {
		result.Program = data
	}

	return outputCompileSuccess(formatter, result, data)
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result CompilationResult, data []byte) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if result.Output == "" {
		fmt.Fprintln(formatter.Writer, string(data))
		return nil
	}
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d command(s), %d job(s) to %s\n", result.Commands, result.Jobs, result.Output)
	fmt.Fprintf(formatter.Writer, "  program hash: %s\n", result.ProgramHash)
	return nil
}
