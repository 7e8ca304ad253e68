// Package reportmd renders a runner.Report as the human-readable markdown
// summary written to data/index/changes-summary.md.
package reportmd

import (
	"fmt"
	"strings"

	"github.com/maiconjh/svpatch/internal/runner"
)

// Render builds the markdown summary document for report.
func Render(report runner.Report) string {
	var b strings.Builder

	b.WriteString("# Safe-Vibe Patch Summary\n\n")
	fmt.Fprintf(&b, "- Root: `%s`\n", report.Root)
	fmt.Fprintf(&b, "- Run ID: `%s`\n", report.RunID)
	fmt.Fprintf(&b, "- Change ID: `%s`\n", report.ChangeID)
	fmt.Fprintf(&b, "- Plan only: `%t`\n", report.PlanOnly)
	fmt.Fprintf(&b, "- Strict: `%t`\n", report.Strict)
	fmt.Fprintf(&b, "- Backup: `%t`\n", report.Backup)
	fmt.Fprintf(&b, "- Rollback on fail: `%t`\n", report.RollbackOnFail)
	fmt.Fprintf(&b, "- Duration (ms): `%d`\n", report.DurationMs)
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Status: %s\n", report.Status)

	if len(report.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range report.Errors {
			fmt.Fprintf(&b, "- `%s`: %s (%s)\n", e.Error, e.File, e.Step)
		}
	}

	if report.Rollback != nil && report.Rollback.Attempted {
		b.WriteString("\n## Rollback\n\n")
		fmt.Fprintf(&b, "- Files restored: `%d`\n", len(report.Rollback.FilesRestored))
		fmt.Fprintf(&b, "- Files removed: `%d`\n", len(report.Rollback.FilesRemoved))
	}

	b.WriteString("\n## Diffs\n\n")
	diffsFound := false
	for _, step := range report.Steps {
		for _, script := range step.Scripts {
			for _, fr := range script.Files {
				if fr.Diff == "" {
					continue
				}
				diffsFound = true
				label := fr.File
				if fr.IsNew {
					label += " (NEW)"
				}
				fmt.Fprintf(&b, "### %s\n\n", label)
				b.WriteString("```diff\n")
				b.WriteString(strings.TrimRight(fr.Diff, "\n"))
				b.WriteString("\n```\n\n")
			}
		}
	}
	if !diffsFound {
		b.WriteString("No changes to display.\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
