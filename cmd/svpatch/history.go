package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maiconjh/svpatch/internal/historystore"
)

var historyRoot string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past svpatch runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs from runs.jsonl",
	Long: `list reads data/history/index/runs.jsonl (newest entries last, as
appended) and prints one summary line per run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(historyRoot)
		if err != nil {
			return err
		}
		store := historystore.New(root)
		runs, err := store.ListRuns()
		if err != nil {
			return fmt.Errorf("failed to read run history: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs found.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-20s  %s  files=%d errors=%d\n",
				formatRunTimestamp(r.FinishedAt), r.RunID, r.Status, r.FilesChanged, r.ErrorCount)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show a recorded run's manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(historyRoot)
		if err != nil {
			return err
		}
		store := historystore.New(root)
		runDir, err := store.FindRunDir(args[0])
		if err != nil {
			return fmt.Errorf("run %q not found: %w", args[0], err)
		}
		m, err := historystore.ReadManifest(runDir)
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}

		fmt.Printf("Run:       %s\n", m.RunID)
		fmt.Printf("Change ID: %s\n", m.ChangeID)
		if m.ParentRunID != "" {
			fmt.Printf("Parent:    %s\n", m.ParentRunID)
		}
		fmt.Printf("Status:    %s\n", m.Status)
		fmt.Printf("Root:      %s\n", m.Root)
		fmt.Printf("Plan only: %t\n", m.PlanOnly)
		fmt.Printf("Strict:    %t\n", m.Strict)
		fmt.Printf("Backup:    %t\n", m.Backup)
		fmt.Printf("Started:   %s\n", m.StartedAt)
		if m.FinishedAt != "" {
			fmt.Printf("Finished:  %s (%dms)\n", m.FinishedAt, m.DurationMs)
		}
		if len(m.Files) == 0 {
			fmt.Println("\nNo files changed.")
			return nil
		}
		fmt.Println("\nFiles:")
		for _, f := range m.Files {
			tag := f.Action
			if f.IsNew {
				tag += " NEW"
			}
			fmt.Printf("  %-4s %s\n", tag, f.Path)
		}
		return nil
	},
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyRoot, "root", ".", "Project root")
	historyCmd.AddCommand(historyListCmd, historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func formatRunTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return strings.TrimSpace(ts)
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
