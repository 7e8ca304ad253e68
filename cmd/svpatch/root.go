package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "svpatch",
	Short: "Transactional, DSL-driven source-tree patcher",
	Long: `svpatch applies a pipeline of line-oriented patch scripts to a source
tree inside an in-memory overlay, then either reports what would change
(plan) or commits the overlay to disk as one transaction (apply).

Examples:
  svpatch plan  --root . --pipeline pipeline.json --report plan.json
  svpatch apply --root . --pipeline pipeline.json --strict --backup --report report.json
  svpatch history list --root .
  svpatch reportdiff --baseline old.json --candidate new.json`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

// isTTY reports whether stdout is an interactive terminal, so output can be
// lightly decorated for a human without corrupting piped output.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
