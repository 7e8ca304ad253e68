package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/maiconjh/svpatch/internal/pipelinefile"
)

func writeScript(t *testing.T, root, name, body string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func onePipeline(scripts ...string) pipelinefile.Pipeline {
	return pipelinefile.Pipeline{Steps: []pipelinefile.Step{{Name: "step-1", Scripts: scripts}}}
}

func baseOptions(root string, pipeline pipelinefile.Pipeline) Options {
	return Options{
		Root:               root,
		Pipeline:           pipeline,
		Allow:              []string{"."},
		MaxFiles:           500,
		MaxTotalWriteBytes: 10_000_000,
	}
}

// Scenario 1: CreateFile (new).
func TestRun_CreateFileNewWritesOnApply(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "s.sv", `CREATE_FILE | foo/bar.txt | "hello\nworld"`)

	opts := baseOptions(root, onePipeline("s.sv"))
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusOK {
		t.Fatalf("status = %s, want OK; errors=%v", report.Status, report.Errors)
	}

	data, err := os.ReadFile(filepath.Join(root, "foo", "bar.txt"))
	if err != nil {
		t.Fatalf("expected foo/bar.txt on disk: %v", err)
	}
	if string(data) != "hello\nworld" {
		t.Errorf("content = %q, want %q", data, "hello\nworld")
	}

	fr := report.Steps[0].Scripts[0].Files[0]
	if !fr.IsNew || fr.Changed != true {
		t.Errorf("file report = %+v, want IsNew=true Changed=true", fr)
	}
}

// Scenario 1 (plan mode variant): plan never writes to disk.
func TestRun_PlanOnlyNeverWritesToDisk(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "s.sv", `CREATE_FILE | foo/bar.txt | "hello"`)

	opts := baseOptions(root, onePipeline("s.sv"))
	opts.PlanOnly = true
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusOK {
		t.Fatalf("status = %s, want OK", report.Status)
	}
	if _, err := os.Stat(filepath.Join(root, "foo", "bar.txt")); !os.IsNotExist(err) {
		t.Errorf("plan mode must not create foo/bar.txt")
	}
}

// Scenario 2: CreateFile (idempotent).
func TestRun_CreateFileIdempotentIsNoOp(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "foo"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "foo", "bar.txt"), []byte("hello\nworld"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeScript(t, root, "s.sv", `CREATE_FILE | foo/bar.txt | "hello\nworld"`)

	opts := baseOptions(root, onePipeline("s.sv"))
	opts.Backup = true
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusOK {
		t.Fatalf("status = %s, want OK", report.Status)
	}
	fr := report.Steps[0].Scripts[0].Files[0]
	if fr.Changed {
		t.Errorf("expected no change for an identical pre-existing file")
	}
	for _, mf := range manifestFilesFor(t, root) {
		if mf.Path == "foo/bar.txt" {
			t.Errorf("manifest must have no entry for a no-op file, got %+v", mf)
		}
	}
}

// Scenario 3: ReplaceRegex with multiline anchors, plus strict no-op failure.
func TestRun_ReplaceRegexMultilineAndStrictFailure(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeScript(t, root, "s.sv", `REPLACE_REGEX | f.txt | ^b$ | B`)

	opts := baseOptions(root, onePipeline("s.sv"))
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusOK {
		t.Fatalf("status = %s, want OK", report.Status)
	}
	data, err := os.ReadFile(filepath.Join(root, "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a\nB\nc\n" {
		t.Errorf("content = %q, want %q", data, "a\nB\nc\n")
	}

	root2 := t.TempDir()
	if err := os.WriteFile(filepath.Join(root2, "f.txt"), []byte("a\nc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeScript(t, root2, "s.sv", `REPLACE_REGEX | f.txt | ^b$ | B`)
	opts2 := baseOptions(root2, onePipeline("s.sv"))
	opts2.Strict = true
	report2, err := Run(opts2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report2.Status == StatusOK {
		t.Fatalf("want a failure in strict mode for a no-op mutation")
	}
	if len(report2.Errors) != 1 || report2.Errors[0].Error != "STRICT_FAIL_EXPECTED_CHANGE" {
		t.Errorf("errors = %+v, want a single STRICT_FAIL_EXPECTED_CHANGE", report2.Errors)
	}
}

// Scenario 4: heredoc CreateFile payload plus ASSERT_REGEX_COUNT.
func TestRun_HeredocCreateFileAndAssertCount(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "s.sv", "CREATE_FILE | x/y.txt | <<END\nline1\nline2\nEND\nASSERT_REGEX_COUNT | x/y.txt | ^line\\d$ | 2\n")

	opts := baseOptions(root, onePipeline("s.sv"))
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusOK {
		t.Fatalf("status = %s, want OK; errors=%v", report.Status, report.Errors)
	}
	data, err := os.ReadFile(filepath.Join(root, "x", "y.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line1\nline2" {
		t.Errorf("content = %q, want %q (no trailing newline)", data, "line1\nline2")
	}
}

// Scenario 5: rollback on fail — commit never runs because step B fails first,
// so nothing from step A reaches disk.
func TestRun_FailedStepLeavesDiskUntouched(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "a.sv", `CREATE_FILE | a.txt | "new"`)
	writeScript(t, root, "b.sv", `ASSERT_FILE_EXISTS | missing.txt`)

	pipeline := pipelinefile.Pipeline{Steps: []pipelinefile.Step{
		{Name: "A", Scripts: []string{"a.sv"}},
		{Name: "B", Scripts: []string{"b.sv"}},
	}}
	opts := baseOptions(root, pipeline)
	opts.Backup = true
	opts.RollbackOnFail = true
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusFailedNoRollback {
		t.Fatalf("status = %s, want FAILED_NO_ROLLBACK", report.Status)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Errorf("a.txt must not exist on disk: commit never ran")
	}
	if report.Rollback == nil || report.Rollback.Attempted {
		t.Errorf("rollback = %+v, want Attempted=false (nothing to revert)", report.Rollback)
	}

	data, err := os.ReadFile(filepath.Join(root, "data", "history", "index", "by-path.jsonl"))
	if err == nil && len(data) != 0 {
		t.Errorf("by-path.jsonl must stay empty for a failed run, got %q", data)
	}
}

// Scenario 6: max-files limit trips at commit and no partial writes land.
func TestRun_MaxFilesLimitBlocksCommit(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "s.sv", "CREATE_FILE | tmp/a | \"a\"\nCREATE_FILE | tmp/b | \"b\"\n")

	opts := baseOptions(root, onePipeline("s.sv"))
	opts.Allow = []string{"tmp/"}
	opts.MaxFiles = 1
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status == StatusOK {
		t.Fatalf("want the run to fail on LIMIT_MAX_FILES_EXCEEDED")
	}
	foundLimit := false
	for _, e := range report.Errors {
		if e.Error == "LIMIT_MAX_FILES_EXCEEDED" {
			foundLimit = true
		}
	}
	if !foundLimit {
		t.Errorf("errors = %+v, want LIMIT_MAX_FILES_EXCEEDED", report.Errors)
	}
	if _, err := os.Stat(filepath.Join(root, "tmp", "a")); !os.IsNotExist(err) {
		t.Errorf("tmp/a must not exist after a blocked commit")
	}
	if _, err := os.Stat(filepath.Join(root, "tmp", "b")); !os.IsNotExist(err) {
		t.Errorf("tmp/b must not exist after a blocked commit")
	}
}

func TestRun_BackupWritesHistoryManifestAndIndex(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("before"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeScript(t, root, "s.sv", `UPSERT_FILE | f.txt | "after"`)

	opts := baseOptions(root, onePipeline("s.sv"))
	opts.Backup = true
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusOK {
		t.Fatalf("status = %s, want OK; errors=%v", report.Status, report.Errors)
	}
	if report.RunID == "" {
		t.Fatal("want a non-empty run id when backup is enabled")
	}

	manifestFiles := manifestFilesFor(t, root)
	found := false
	for _, mf := range manifestFiles {
		if mf.Path == "f.txt" && mf.Action == "MOD" {
			found = true
			if mf.BackupPath == "" {
				t.Errorf("expected a backup path for a MOD entry")
			}
		}
	}
	if !found {
		t.Errorf("manifest files = %+v, want an entry for f.txt", manifestFiles)
	}

	idx, err := os.ReadFile(filepath.Join(root, "data", "history", "index", "by-path.jsonl"))
	if err != nil || len(idx) == 0 {
		t.Errorf("want a non-empty by-path.jsonl after an OK run, err=%v", err)
	}
}

// A script that spells the same file two different ways must still resolve
// to one logical file: one VFS entry, one report entry, one manifest entry.
func TestRun_MixedPathSpellingsResolveToOneFile(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "s.sv", "CREATE_FILE | ./a.txt | \"x\"\nASSERT_FILE_EXISTS | a.txt\n")

	opts := baseOptions(root, onePipeline("s.sv"))
	opts.Backup = true
	report, err := Run(opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusOK {
		t.Fatalf("status = %s, want OK; errors=%v", report.Status, report.Errors)
	}

	files := report.Steps[0].Scripts[0].Files
	if len(files) != 1 {
		t.Fatalf("want one merged file report for ./a.txt and a.txt, got %d: %+v", len(files), files)
	}
	fr := files[0]
	if fr.File != "a.txt" {
		t.Errorf("File = %q, want the normalized spelling a.txt", fr.File)
	}
	if !fr.IsNew || !fr.Changed {
		t.Errorf("file report = %+v, want IsNew=true Changed=true", fr)
	}

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil || string(data) != "x" {
		t.Fatalf("a.txt on disk = %q, err=%v, want \"x\"", data, err)
	}

	manifestFiles := manifestFilesFor(t, root)
	matches := 0
	for _, mf := range manifestFiles {
		if mf.Path == "a.txt" {
			matches++
		}
	}
	if matches != 1 {
		t.Errorf("manifest files = %+v, want exactly one entry keyed a.txt", manifestFiles)
	}
}

// manifestFilesFor reads back the single run directory under data/history/runs
// and returns its manifest's Files slice.
func manifestFilesFor(t *testing.T, root string) []struct {
	Path       string `json:"path"`
	Action     string `json:"action"`
	BackupPath string `json:"backup_path"`
} {
	t.Helper()
	runsRoot := filepath.Join(root, "data", "history", "runs")
	var manifestPath string
	_ = filepath.Walk(runsRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && filepath.Base(path) == "manifest.json" {
			manifestPath = path
		}
		return nil
	})
	if manifestPath == "" {
		return nil
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	var m struct {
		Files []struct {
			Path       string `json:"path"`
			Action     string `json:"action"`
			BackupPath string `json:"backup_path"`
		} `json:"files"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	return m.Files
}
