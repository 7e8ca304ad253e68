// Package runner drives the transactional pipeline->steps->scripts->commands
// loop: it parses each script, feeds its commands to the operation engine
// against one shared overlay VFS, enforces the commit-phase limits, and —
// in apply mode — atomically commits the overlay to disk with optional
// history and backup+rollback.
package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/maiconjh/svpatch/internal/dsl"
	"github.com/maiconjh/svpatch/internal/engine"
	"github.com/maiconjh/svpatch/internal/historystore"
	"github.com/maiconjh/svpatch/internal/pipelinefile"
	"github.com/maiconjh/svpatch/internal/vfs"
)

// Status values for a completed run.
const (
	StatusOK               = "OK"
	StatusFailedRolledBack = "FAILED_ROLLED_BACK"
	StatusFailedNoRollback = "FAILED_NO_ROLLBACK"
)

// Options configures one run.
type Options struct {
	Root               string
	PipelinePath       string
	Pipeline           pipelinefile.Pipeline
	PlanOnly           bool
	Strict             bool
	Backup             bool
	RollbackOnFail     bool
	Allow              []string
	MaxFiles           int
	MaxTotalWriteBytes int64
	Verbose            bool
}

// ErrorEntry is one taxonomy error: {step, script, file, line, op, error, raw}.
type ErrorEntry struct {
	Step   string `json:"step,omitempty"`
	Script string `json:"script,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Op     string `json:"op,omitempty"`
	Error  string `json:"error"`
	Raw    string `json:"raw,omitempty"`
}

// OpRecord is one command's outcome within a FileReport.
type OpRecord struct {
	Line    int                `json:"line"`
	Op      string             `json:"op"`
	Changed int                `json:"changed"`
	Matches []engine.ScanMatch `json:"matches,omitempty"`
}

// FileReport closes out one file touched within a script: its accumulated
// ops plus a before/after diff and byte/hash pair.
type FileReport struct {
	File         string     `json:"file"`
	Changed      bool       `json:"changed"`
	Ops          []OpRecord `json:"ops"`
	Diff         string     `json:"diff,omitempty"`
	BytesBefore  int        `json:"bytes_before"`
	BytesAfter   int        `json:"bytes_after"`
	Sha256Before string     `json:"sha256_before,omitempty"`
	Sha256After  string     `json:"sha256_after,omitempty"`
	IsNew        bool       `json:"is_new"`
}

// ScriptReport is one parsed-and-executed script within a step.
type ScriptReport struct {
	Script string       `json:"script"`
	Files  []FileReport `json:"files"`
	Errors []ErrorEntry `json:"errors"`
}

// StepReport is one pipeline step's outcome.
type StepReport struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Scripts []ScriptReport `json:"scripts"`
}

// Limits echoes the commit-phase limits the run was evaluated against.
type Limits struct {
	MaxFiles           int      `json:"max_files"`
	MaxTotalWriteBytes int64    `json:"max_total_write_bytes"`
	AllowlistPrefixes  []string `json:"allowlist_prefixes"`
}

// PipelineEchoStep/PipelineEcho carry the normalized pipeline back in the
// report, so a reader can see exactly which steps and scripts a run used.
type PipelineEchoStep struct {
	Name    string   `json:"name"`
	Scripts []string `json:"scripts"`
}

type PipelineEcho struct {
	Steps []PipelineEchoStep `json:"steps"`
}

// RollbackResult records which files were restored or removed.
type RollbackResult struct {
	Attempted     bool     `json:"attempted"`
	FilesRestored []string `json:"files_restored"`
	FilesRemoved  []string `json:"files_removed"`
}

// Report is the full JSON run report.
type Report struct {
	Root           string          `json:"root"`
	PlanOnly       bool            `json:"plan_only"`
	Strict         bool            `json:"strict"`
	Backup         bool            `json:"backup"`
	RollbackOnFail bool            `json:"rollback_on_fail"`
	Limits         Limits          `json:"limits"`
	Pipeline       PipelineEcho    `json:"pipeline"`
	Steps          []StepReport    `json:"steps"`
	Errors         []ErrorEntry    `json:"errors"`
	Rollback       *RollbackResult `json:"rollback,omitempty"`
	RunID          string          `json:"run_id,omitempty"`
	ChangeID       string          `json:"change_id"`
	Status         string          `json:"status"`
	SummaryPath    string          `json:"summary_path,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
}

// Run executes one pipeline and returns its report. The returned error is
// non-nil only for process-level I/O failures (reading the history index,
// writing history); every DSL/engine-level problem, including an unreadable
// script (SCRIPT_NOT_FOUND), is reported through Report.Errors with exit
// status conveyed by Report.Status.
func Run(opts Options) (Report, error) {
	start := time.Now()
	v := vfs.New(opts.Root)

	changeID := historystore.ComputeChangeID(opts.Root, opts.PipelinePath, opts.Strict, opts.Allow)
	report := Report{
		Root:           opts.Root,
		PlanOnly:       opts.PlanOnly,
		Strict:         opts.Strict,
		Backup:         opts.Backup,
		RollbackOnFail: opts.RollbackOnFail,
		Limits: Limits{
			MaxFiles:           opts.MaxFiles,
			MaxTotalWriteBytes: opts.MaxTotalWriteBytes,
			AllowlistPrefixes:  opts.Allow,
		},
		ChangeID: changeID,
	}
	for _, s := range opts.Pipeline.Steps {
		report.Pipeline.Steps = append(report.Pipeline.Steps, PipelineEchoStep{Name: s.Name, Scripts: s.Scripts})
	}

	var store historystore.Store
	var runDir string
	historyEnabled := opts.Backup && !opts.PlanOnly
	if historyEnabled {
		store = historystore.New(opts.Root)
		parentID, err := store.LastParentRunID()
		if err != nil {
			return report, fmt.Errorf("reading history index: %w", err)
		}
		runID, dir, err := store.CreateRun(start)
		if err != nil {
			report.Errors = append(report.Errors, ErrorEntry{Error: historystore.ErrRunIDExhausted.Error()})
			report.Status = StatusFailedNoRollback
			report.DurationMs = time.Since(start).Milliseconds()
			return report, nil
		}
		report.RunID = runID
		runDir = dir
		if err := historystore.WriteManifest(runDir, historystore.Manifest{
			SchemaVersion:  historystore.SchemaVersion,
			RunID:          runID,
			ChangeID:       changeID,
			ParentRunID:    parentID,
			Status:         "RUNNING",
			Root:           opts.Root,
			PlanOnly:       opts.PlanOnly,
			Strict:         opts.Strict,
			Backup:         opts.Backup,
			RollbackOnFail: opts.RollbackOnFail,
			StartedAt:      start.UTC().Format(time.RFC3339),
		}); err != nil {
			return report, fmt.Errorf("writing bootstrap manifest: %w", err)
		}
	}

	engineOpts := engine.Options{Root: opts.Root, Allow: opts.Allow, Strict: opts.Strict}

stepLoop:
	for _, step := range opts.Pipeline.Steps {
		stepReport := StepReport{Name: step.Name, Status: StatusOK}
		report.Steps = append(report.Steps, stepReport)
		stepIdx := len(report.Steps) - 1

		var stepErrors []ErrorEntry
		for _, scriptPath := range step.Scripts {
			absScript := scriptPath
			if !filepath.IsAbs(absScript) {
				absScript = filepath.Join(opts.Root, scriptPath)
			}
			raw, err := os.ReadFile(absScript)
			if err != nil {
				stepErrors = append(stepErrors, ErrorEntry{
					Step: step.Name, Script: scriptPath, Error: "SCRIPT_NOT_FOUND",
				})
				break
			}

			text := vfs.NormalizeLF(string(raw))
			commands := dsl.Parse(text)

			scriptReport := ScriptReport{Script: scriptPath}
			perFile := map[string]*FileReport{}
			var fileOrder []string

			for _, cmd := range commands {
				res := engine.Execute(cmd, v, engineOpts)
				relFile := res.File

				fr, ok := perFile[relFile]
				if !ok {
					fr = &FileReport{File: relFile}
					perFile[relFile] = fr
					fileOrder = append(fileOrder, relFile)
				}
				fr.Ops = append(fr.Ops, OpRecord{Line: cmd.LineNo, Op: res.Op, Changed: res.Changed, Matches: res.Matches})

				if res.Error != "" {
					entry := ErrorEntry{
						Step: step.Name, Script: scriptPath, File: relFile,
						Line: cmd.LineNo, Op: res.Op, Error: res.Error, Raw: cmd.Raw,
					}
					scriptReport.Errors = append(scriptReport.Errors, entry)
					stepErrors = append(stepErrors, entry)
				}
			}

			for _, relFile := range fileOrder {
				fr := perFile[relFile]
				finalizeFileReport(fr, v, opts.Root, relFile)
				scriptReport.Files = append(scriptReport.Files, *fr)
			}

			report.Steps[stepIdx].Scripts = append(report.Steps[stepIdx].Scripts, scriptReport)

			if len(scriptReport.Errors) > 0 {
				break
			}
		}

		if len(stepErrors) > 0 {
			report.Steps[stepIdx].Status = "FAILED"
			report.Errors = append(report.Errors, stepErrors...)
			// Commit never ran, so disk is untouched; there is nothing to
			// restore. Record the decision so callers can tell "rollback
			// requested but moot" from "rollback requested and performed".
			if opts.RollbackOnFail && !opts.PlanOnly {
				report.Rollback = &RollbackResult{Attempted: false}
			}
			break stepLoop
		}
	}

	if !opts.PlanOnly && len(report.Errors) == 0 {
		if len(v.ChangedFiles()) > opts.MaxFiles {
			report.Errors = append(report.Errors, ErrorEntry{Error: "LIMIT_MAX_FILES_EXCEEDED"})
		}
		if v.WriteBytesTotal() > opts.MaxTotalWriteBytes {
			report.Errors = append(report.Errors, ErrorEntry{Error: "LIMIT_MAX_TOTAL_WRITE_BYTES_EXCEEDED"})
		}

		if len(report.Errors) > 0 {
			if opts.RollbackOnFail {
				report.Rollback = &RollbackResult{Attempted: false}
			}
		} else {
			rb, err := commit(v, opts.Root, opts.Backup, historyEnabled, runDir)
			if err != nil {
				report.Rollback = &rb
				report.Errors = append(report.Errors, ErrorEntry{Error: fmt.Sprintf("COMMIT_FAILED: %v", err)})
			}
		}
	}

	report.Status = StatusOK
	if len(report.Errors) > 0 {
		if report.Rollback != nil && report.Rollback.Attempted {
			report.Status = StatusFailedRolledBack
		} else {
			report.Status = StatusFailedNoRollback
		}
	}
	report.DurationMs = time.Since(start).Milliseconds()

	if historyEnabled {
		if err := finalizeHistory(store, runDir, report, v); err != nil {
			return report, fmt.Errorf("finalizing history: %w", err)
		}
	}

	return report, nil
}

// finalizeFileReport fills in fr.Diff/Bytes*/Sha256*/IsNew by comparing the
// real on-disk content (captured fresh; the disk is untouched until commit,
// so every read during a run sees the same pre-run bytes) against the
// overlay's current value.
func finalizeFileReport(fr *FileReport, v *vfs.VFS, root, relFile string) {
	beforeText := ""
	beforeExisted := false
	if abs := filepath.Join(root, filepath.FromSlash(relFile)); fileExists(abs) {
		if b, err := os.ReadFile(abs); err == nil {
			beforeText = vfs.NormalizeLF(string(b))
			beforeExisted = true
		}
	}
	afterText, afterExists, _ := v.Read(relFile)

	fr.BytesBefore = len(beforeText)
	if beforeExisted {
		fr.Sha256Before = vfs.Sha256Hex(beforeText)
	}

	if afterExists {
		fr.BytesAfter = len(afterText)
		fr.Sha256After = vfs.Sha256Hex(afterText)
	}
	fr.IsNew = !beforeExisted && afterExists
	fr.Changed = beforeText != afterText || beforeExisted != afterExists

	if fr.Changed {
		fr.Diff = unifiedDiff(beforeText, afterText, relFile)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// unifiedDiff renders a git-style unified diff between before and after.
func unifiedDiff(before, after, label string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: label,
		ToFile:   label,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

// staged is one path's commit plan: its rename-ready temp file for an
// ADD/MOD, or a bare delete, plus the in-memory pre-image needed to reverse
// it if a later entry in the same commit fails.
type staged struct {
	relpath  string
	absPath  string
	tmpPath  string
	isDel    bool
	existed  bool
	preimage []byte
}

// commit stages every changed path as a sibling temp file and only then
// renames (or removes) each target in turn, making a clean run all-or-
// nothing in the common case. A rename/remove failure partway through is
// still possible (e.g. a permission change mid-run); commit reverses every
// already-applied entry using the in-memory pre-images captured while
// staging, and reports that reversal via the returned RollbackResult.
func commit(v *vfs.VFS, root string, backup, historyEnabled bool, runDir string) (RollbackResult, error) {
	changed := v.ChangedFiles()
	var plan []staged

	for relpath, meta := range changed {
		absPath := filepath.Join(root, filepath.FromSlash(relpath))
		s := staged{relpath: relpath, absPath: absPath}

		if meta.Action != vfs.ActionAdd && fileExists(absPath) {
			data, err := os.ReadFile(absPath)
			if err != nil {
				return RollbackResult{}, err
			}
			s.existed = true
			s.preimage = data
			if backup && historyEnabled {
				if err := writeBackupFile(runDir, relpath, data); err != nil {
					return RollbackResult{}, err
				}
			}
		}

		if meta.Action == vfs.ActionDel {
			s.isDel = true
			plan = append(plan, s)
			continue
		}

		content, _, err := v.Read(relpath)
		if err != nil {
			return RollbackResult{}, err
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return RollbackResult{}, err
		}
		tmp := absPath + vfs.TempSuffix() + fmt.Sprintf(".%d", time.Now().UnixNano())
		if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
			return RollbackResult{}, err
		}
		s.tmpPath = tmp
		plan = append(plan, s)
	}

	var applied []staged
	for _, s := range plan {
		if s.isDel {
			if err := os.Remove(s.absPath); err != nil && !os.IsNotExist(err) {
				rb := rollbackApplied(applied)
				return rb, fmt.Errorf("removing %s: %w", s.relpath, err)
			}
			applied = append(applied, s)
			continue
		}
		if err := os.Rename(s.tmpPath, s.absPath); err != nil {
			os.Remove(s.tmpPath)
			rb := rollbackApplied(applied)
			return rb, fmt.Errorf("renaming %s: %w", s.relpath, err)
		}
		applied = append(applied, s)
	}
	return RollbackResult{}, nil
}

// rollbackApplied reverses already-applied commit entries in reverse order:
// deletions are restored from their captured pre-image, new files are
// removed, overwrites are restored from their captured pre-image.
func rollbackApplied(applied []staged) RollbackResult {
	rb := RollbackResult{Attempted: true}
	for i := len(applied) - 1; i >= 0; i-- {
		s := applied[i]
		if !s.existed {
			if err := os.Remove(s.absPath); err == nil {
				rb.FilesRemoved = append(rb.FilesRemoved, s.relpath)
			}
			continue
		}
		if err := vfs.AtomicWriteFile(s.absPath, s.preimage, 0o644); err == nil {
			rb.FilesRestored = append(rb.FilesRestored, s.relpath)
		}
	}
	return rb
}

func writeBackupFile(runDir, relpath string, data []byte) error {
	path := historystore.BackupPath(runDir, relpath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// finalizeHistory writes per-file diffs, updates the manifest with its
// terminal status, and appends to the two index ledgers.
func finalizeHistory(store historystore.Store, runDir string, report Report, v *vfs.VFS) error {
	var files []historystore.ManifestFile
	for relpath, meta := range v.ChangedFiles() {
		mf := historystore.ManifestFile{
			Path:         relpath,
			Action:       string(meta.Action),
			IsNew:        meta.IsNew,
			IsDeleted:    meta.Action == vfs.ActionDel,
			Sha256Before: meta.Sha256Before,
			Sha256After:  meta.Sha256After,
			BytesBefore:  meta.BytesBefore,
			BytesAfter:   meta.BytesAfter,
		}
		if report.Status == StatusOK {
			if meta.Action != vfs.ActionDel {
				diffPath := historystore.PatchPath(runDir, relpath)
				content, _, err := v.Read(relpath)
				if err == nil {
					if err := os.MkdirAll(filepath.Dir(diffPath), 0o755); err != nil {
						return err
					}
					// Reuse the diff rendered during the run against the pre-commit
					// state; disk already holds the post-commit content by now.
					if err := os.WriteFile(diffPath, []byte(unifiedDiffFromReport(report, relpath, content)), 0o644); err != nil {
						return err
					}
					mf.DiffPath = diffPath
				}
			}
			if meta.Action != vfs.ActionAdd {
				mf.BackupPath = historystore.BackupPath(runDir, relpath)
			}
		}
		files = append(files, mf)
	}

	// Carry over the fields only the bootstrap manifest knows.
	prev, err := historystore.ReadManifest(runDir)
	if err != nil {
		return err
	}

	m := historystore.Manifest{
		SchemaVersion:  historystore.SchemaVersion,
		RunID:          report.RunID,
		ChangeID:       report.ChangeID,
		ParentRunID:    prev.ParentRunID,
		Status:         report.Status,
		Root:           report.Root,
		PlanOnly:       report.PlanOnly,
		Strict:         report.Strict,
		Backup:         report.Backup,
		RollbackOnFail: report.RollbackOnFail,
		StartedAt:      prev.StartedAt,
		FinishedAt:     time.Now().UTC().Format(time.RFC3339),
		DurationMs:     report.DurationMs,
		Files:          files,
		ErrorCount:     len(report.Errors),
	}
	if err := historystore.WriteManifest(runDir, m); err != nil {
		return err
	}

	artifacts := historystore.ArtifactsDir(runDir)
	if err := os.MkdirAll(artifacts, 0o755); err != nil {
		return err
	}

	if err := store.AppendRunRecord(historystore.RunRecord{
		RunID:        report.RunID,
		ChangeID:     report.ChangeID,
		ParentRunID:  m.ParentRunID,
		Status:       report.Status,
		Root:         report.Root,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		FilesChanged: len(files),
		ErrorCount:   len(report.Errors),
	}); err != nil {
		return err
	}

	if report.Status == StatusOK {
		for _, f := range files {
			if err := store.AppendByPathRecord(historystore.ByPathRecord{
				RunID:        report.RunID,
				Path:         f.Path,
				Action:       f.Action,
				Sha256Before: f.Sha256Before,
				Sha256After:  f.Sha256After,
				Timestamp:    m.FinishedAt,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// unifiedDiffFromReport recovers the diff already computed for relpath in
// the step reports, so history's patches/ directory matches exactly what
// the run report showed without re-rendering against post-commit disk state.
func unifiedDiffFromReport(report Report, relpath, fallbackAfter string) string {
	for _, step := range report.Steps {
		for _, script := range step.Scripts {
			for _, fr := range script.Files {
				if fr.File == relpath && fr.Diff != "" {
					return fr.Diff
				}
			}
		}
	}
	return unifiedDiff("", fallbackAfter, relpath)
}
