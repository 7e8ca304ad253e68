package main

import "github.com/spf13/cobra"

var planFlags runFlags

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Evaluate a pipeline without writing to disk",
	Long: `plan parses and executes every script in the pipeline against an
in-memory overlay and writes the resulting report and the summary under
data/index/; none of the files the scripts target are modified on disk.

Example:
  svpatch plan --root . --pipeline pipeline.json --report plan-report.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWith(planFlags, true)
	},
}

func init() {
	addRunFlags(planCmd, &planFlags, false)
	rootCmd.AddCommand(planCmd)
}
