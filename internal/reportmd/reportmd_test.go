package reportmd

import (
	"strings"
	"testing"

	"github.com/maiconjh/svpatch/internal/runner"
)

func TestRenderNoChangesFallback(t *testing.T) {
	report := runner.Report{Root: "/repo", Status: "OK"}
	out := Render(report)
	if !strings.Contains(out, "No changes to display.") {
		t.Errorf("want the no-changes fallback, got:\n%s", out)
	}
	if !strings.Contains(out, "## Status: OK") {
		t.Errorf("want a status heading, got:\n%s", out)
	}
}

func TestRenderIncludesErrorsSection(t *testing.T) {
	report := runner.Report{
		Root:   "/repo",
		Status: "FAILED_NO_ROLLBACK",
		Errors: []runner.ErrorEntry{
			{Error: "FILE_NOT_FOUND", File: "a.txt", Step: "step-1"},
		},
	}
	out := Render(report)
	if !strings.Contains(out, "## Errors") {
		t.Errorf("want an errors section, got:\n%s", out)
	}
	if !strings.Contains(out, "`FILE_NOT_FOUND`: a.txt (step-1)") {
		t.Errorf("want the formatted error line, got:\n%s", out)
	}
}

func TestRenderIncludesDiffsAndNewLabel(t *testing.T) {
	report := runner.Report{
		Root:   "/repo",
		Status: "OK",
		Steps: []runner.StepReport{
			{
				Name: "step-1",
				Scripts: []runner.ScriptReport{
					{
						Script: "s.sv",
						Files: []runner.FileReport{
							{File: "new.txt", IsNew: true, Changed: true, Diff: "+hello\n"},
							{File: "unchanged.txt", Changed: false, Diff: ""},
						},
					},
				},
			},
		},
	}
	out := Render(report)
	if !strings.Contains(out, "### new.txt (NEW)") {
		t.Errorf("want a NEW-labeled heading, got:\n%s", out)
	}
	if !strings.Contains(out, "```diff\n+hello\n```") {
		t.Errorf("want the diff fenced as a diff block, got:\n%s", out)
	}
	if strings.Contains(out, "No changes to display.") {
		t.Errorf("must not show the fallback once a diff is present")
	}
	if strings.Contains(out, "unchanged.txt") {
		t.Errorf("a file with no diff must not get its own heading")
	}
}

func TestRenderIncludesRollbackSectionOnlyWhenAttempted(t *testing.T) {
	report := runner.Report{
		Root:     "/repo",
		Status:   "FAILED_ROLLED_BACK",
		Rollback: &runner.RollbackResult{Attempted: true, FilesRestored: []string{"a.txt"}, FilesRemoved: []string{"b.txt"}},
	}
	out := Render(report)
	if !strings.Contains(out, "## Rollback") {
		t.Errorf("want a rollback section, got:\n%s", out)
	}
	if !strings.Contains(out, "Files restored: `1`") || !strings.Contains(out, "Files removed: `1`") {
		t.Errorf("want restored/removed counts, got:\n%s", out)
	}

	report2 := runner.Report{Root: "/repo", Status: "FAILED_NO_ROLLBACK", Rollback: &runner.RollbackResult{Attempted: false}}
	out2 := Render(report2)
	if strings.Contains(out2, "## Rollback") {
		t.Errorf("must not render a rollback section when Attempted=false, got:\n%s", out2)
	}
}
