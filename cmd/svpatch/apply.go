package main

import "github.com/spf13/cobra"

var applyFlags runFlags

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Evaluate a pipeline and commit the result to disk",
	Long: `apply runs the same plan phase as "svpatch plan" and, if it
produces no errors and stays within the commit limits, atomically commits
the overlay to disk. With --backup, a history run directory is recorded
under data/history/runs/.

Example:
  svpatch apply --root . --pipeline pipeline.json --strict --backup \
    --rollback-on-fail --report apply-report.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWith(applyFlags, false)
	},
}

func init() {
	addRunFlags(applyCmd, &applyFlags, true)
	rootCmd.AddCommand(applyCmd)
}
