package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maiconjh/svpatch/internal/config"
	"github.com/maiconjh/svpatch/internal/pipelinefile"
	"github.com/maiconjh/svpatch/internal/reportmd"
	"github.com/maiconjh/svpatch/internal/runner"
)

// runFlags holds the flag set shared by `plan` and `apply`: root/pipeline/
// strict/backup/rollback-on-fail/max-files/max-total-write-bytes/allow/report.
type runFlags struct {
	root               string
	pipelinePath       string
	strict             bool
	backup             bool
	rollbackOnFail     bool
	allow              []string
	maxFiles           int
	maxTotalWriteBytes int64
	reportPath         string
}

func addRunFlags(cmd *cobra.Command, f *runFlags, includeApplyOnly bool) {
	cmd.Flags().StringVar(&f.root, "root", "", "Project root (required)")
	cmd.Flags().StringVar(&f.pipelinePath, "pipeline", "", "Pipeline JSON path (required)")
	cmd.Flags().StringSliceVar(&f.allow, "allow", nil, "Allowlist prefix (repeatable)")
	cmd.Flags().IntVar(&f.maxFiles, "max-files", 0, "Limit changed files (default: config file value, else 500)")
	cmd.Flags().Int64Var(&f.maxTotalWriteBytes, "max-total-write-bytes", 0, "Limit total bytes written (default: config file value, else 10000000)")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "Report JSON output path (required)")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Strict mode (no-op mutations fail unless ALLOW_NOOP=1)")
	cmd.MarkFlagRequired("root")
	cmd.MarkFlagRequired("pipeline")
	cmd.MarkFlagRequired("report")

	if includeApplyOnly {
		cmd.Flags().BoolVar(&f.backup, "backup", false, "Keep history backups/diffs on apply")
		cmd.Flags().BoolVar(&f.rollbackOnFail, "rollback-on-fail", false, "Attempt rollback on failure")
	}
}

// runWith loads defaults, the pipeline descriptor, and executes planOnly is
// true for `plan`, false for `apply`.
func runWith(f runFlags, planOnly bool) error {
	root, err := filepath.Abs(f.root)
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	allow := f.allow
	if len(allow) == 0 {
		allow = cfg.Allow
	}
	maxFiles := f.maxFiles
	if maxFiles <= 0 {
		maxFiles = cfg.MaxFiles
	}
	maxBytes := f.maxTotalWriteBytes
	if maxBytes <= 0 {
		maxBytes = cfg.MaxTotalWriteBytes
	}
	backup := f.backup || cfg.Backup

	if verbose {
		fmt.Printf("[VERBOSE] Root: %s\n", root)
		fmt.Printf("[VERBOSE] Allow prefixes: %v\n", allow)
		mode := "APPLY"
		if planOnly {
			mode = "PLAN"
		}
		fmt.Printf("[VERBOSE] Mode: %s\n", mode)
	}

	pipeline, err := pipelinefile.Load(root, f.pipelinePath)
	if err != nil {
		return fmt.Errorf("FATAL: failed to load pipeline: %w", err)
	}
	if verbose {
		fmt.Printf("[VERBOSE] Pipeline loaded with %d steps\n", len(pipeline.Steps))
	}

	report, err := runner.Run(runner.Options{
		Root:               root,
		PipelinePath:       f.pipelinePath,
		Pipeline:           pipeline,
		PlanOnly:           planOnly,
		Strict:             f.strict,
		Backup:             backup,
		RollbackOnFail:     f.rollbackOnFail,
		Allow:              allow,
		MaxFiles:           maxFiles,
		MaxTotalWriteBytes: maxBytes,
		Verbose:            verbose,
	})
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if report.Rollback == nil {
		report.Rollback = &runner.RollbackResult{}
	}

	summaryDir := filepath.Join(root, "data", "index")
	if err := os.MkdirAll(summaryDir, 0o755); err == nil {
		summaryPath := filepath.Join(summaryDir, "changes-summary.md")
		if werr := os.WriteFile(summaryPath, []byte(reportmd.Render(report)), 0o644); werr == nil {
			report.SummaryPath = summaryPath
		}
	}

	reportAbs, err := filepath.Abs(f.reportPath)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(reportAbs, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	failMark, okMark := "FAILED.", "OK."
	if isTTY() {
		failMark, okMark = "\xe2\x9c\x97 FAILED.", "\xe2\x9c\x93 OK."
	}

	if len(report.Errors) > 0 {
		fmt.Printf("\n%s Errors:\n", failMark)
		for _, e := range report.Errors {
			fmt.Printf("- %s [file: %s, step: %s]\n", e.Error, e.File, e.Step)
		}
		if report.Rollback.Attempted {
			fmt.Printf("\nRollback attempted: %d files restored, %d files removed\n",
				len(report.Rollback.FilesRestored), len(report.Rollback.FilesRemoved))
		}
		return fmt.Errorf("svpatch run failed with %d error(s)", len(report.Errors))
	}

	fmt.Println(okMark)
	fmt.Printf("Summary: %s\n", report.SummaryPath)
	fmt.Printf("Report: %s\n", reportAbs)
	if verbose {
		changed := 0
		for _, step := range report.Steps {
			for _, sc := range step.Scripts {
				for _, fr := range sc.Files {
					if fr.Changed {
						changed++
					}
				}
			}
		}
		fmt.Printf("[VERBOSE] Changed files: %d\n", changed)
		fmt.Printf("[VERBOSE] Duration: %dms\n", report.DurationMs)
	}
	return nil
}
