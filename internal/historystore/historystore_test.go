package historystore

import (
	"os"
	"testing"
	"time"
)

func TestComputeChangeIDIsStableAndOrderIndependent(t *testing.T) {
	id1 := ComputeChangeID("/repo", "pipeline.json", true, []string{"src/", "docs/"})
	id2 := ComputeChangeID("/repo", "pipeline.json", true, []string{"docs/", "src/"})
	if id1 != id2 {
		t.Errorf("ComputeChangeID should be independent of allow-list order: %q != %q", id1, id2)
	}
	if len(id1) != 12 {
		t.Errorf("want a 12-hex-char digest, got %q (%d chars)", id1, len(id1))
	}

	id3 := ComputeChangeID("/repo", "pipeline.json", false, []string{"src/", "docs/"})
	if id1 == id3 {
		t.Errorf("changing strict should change the digest")
	}
}

func TestCreateRunGeneratesDistinctIDsAndLayout(t *testing.T) {
	root := t.TempDir()
	store := New(root)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	id1, dir1, err := store.CreateRun(now)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	id2, dir2, err := store.CreateRun(now)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if id1 == id2 || dir1 == dir2 {
		t.Fatalf("want distinct run ids/dirs on repeated calls, got %q/%q and %q/%q", id1, dir1, id2, dir2)
	}
	for _, dir := range []string{dir1, dir2} {
		for _, sub := range []string{"before", "patches", "artifacts"} {
			info, err := os.Stat(dir + "/" + sub)
			if err != nil || !info.IsDir() {
				t.Errorf("expected %s/%s to exist as a directory", dir, sub)
			}
		}
	}
}

func TestWriteManifestAndReadManifestRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := New(root)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	_, dir, err := store.CreateRun(now)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	m := Manifest{SchemaVersion: SchemaVersion, RunID: "run-1", Status: "OK", Root: root}
	if err := WriteManifest(dir, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got.RunID != "run-1" || got.Status != "OK" {
		t.Errorf("manifest round-trip mismatch: %+v", got)
	}
}

func TestRunIndexAppendAndRead(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	if err := store.AppendRunRecord(RunRecord{RunID: "r1", Status: "OK"}); err != nil {
		t.Fatalf("AppendRunRecord: %v", err)
	}
	if err := store.AppendRunRecord(RunRecord{RunID: "r2", Status: "FAILED_NO_ROLLBACK"}); err != nil {
		t.Fatalf("AppendRunRecord: %v", err)
	}

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "r1" || runs[1].RunID != "r2" {
		t.Fatalf("ListRuns = %+v, want [r1 r2] in file order", runs)
	}

	parent, err := store.LastParentRunID()
	if err != nil {
		t.Fatalf("LastParentRunID: %v", err)
	}
	if parent != "r2" {
		t.Errorf("LastParentRunID = %q, want r2", parent)
	}
}

func TestLastParentRunIDEmptyWhenNoIndex(t *testing.T) {
	root := t.TempDir()
	store := New(root)
	parent, err := store.LastParentRunID()
	if err != nil {
		t.Fatalf("LastParentRunID: %v", err)
	}
	if parent != "" {
		t.Errorf("want empty parent id when no index exists, got %q", parent)
	}
}

func TestFindRunDirLocatesByID(t *testing.T) {
	root := t.TempDir()
	store := New(root)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	id, dir, err := store.CreateRun(now)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	found, err := store.FindRunDir(id)
	if err != nil {
		t.Fatalf("FindRunDir: %v", err)
	}
	if found != dir {
		t.Errorf("FindRunDir = %q, want %q", found, dir)
	}
}
