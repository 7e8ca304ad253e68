// Command svpatch runs transactional, DSL-driven source-tree patches.
// See `svpatch --help` for the plan/apply/history/reportdiff subcommands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
