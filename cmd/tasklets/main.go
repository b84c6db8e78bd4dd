// Command tasklets is the CLI entrypoint for the tasklets engine.
//
// Thin main() delegating all flag parsing and subcommand wiring to the
// Cobra root command.
package main

import (
	"fmt"
	"os"

	"github.com/gotasklets/tasklets/internal/cliapp"
)

func main() {
	if err := cliapp.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
