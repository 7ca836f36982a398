// Command tally runs a command file against a bank of shared counters
// using a pool of worker threads.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tally/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tally:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
