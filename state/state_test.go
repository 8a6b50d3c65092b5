package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMemoryTracker(t *testing.T) {
	tracker := NewMemoryTracker()

	if tracker.AlreadyProcessed("abc") {
		t.Error("expected unseen hash to be unprocessed")
	}

	if err := tracker.MarkProcessed("abc", "a.eml"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !tracker.AlreadyProcessed("abc") {
		t.Error("expected hash to be processed after marking")
	}

	// Empty hashes are ignored, they never match anything.
	if err := tracker.MarkProcessed("", "b.eml"); err != nil {
		t.Fatalf("MarkProcessed empty hash: %v", err)
	}
	if tracker.AlreadyProcessed("") {
		t.Error("empty hash must never be processed")
	}

	if got := tracker.Snapshot().Processed; got != 1 {
		t.Errorf("Snapshot().Processed = %d, want 1", got)
	}
}

func TestFileTrackerPersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker: %v", err)
	}
	if err := tracker.MarkProcessed("hash-1", "one.eml"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := tracker.MarkProcessed("hash-2", "two.eml"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker reload: %v", err)
	}
	defer reloaded.Close()

	for _, hash := range []string{"hash-1", "hash-2"} {
		if !reloaded.AlreadyProcessed(hash) {
			t.Errorf("expected %s to survive reload", hash)
		}
	}
	if got := reloaded.Snapshot().Processed; got != 2 {
		t.Errorf("Snapshot().Processed = %d, want 2", got)
	}
}

func TestFileTrackerDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, false)
	if err != nil {
		t.Fatalf("NewFileTracker: %v", err)
	}
	if err := tracker.MarkProcessed("hash-1", "one.eml"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !tracker.AlreadyProcessed("hash-1") {
		t.Error("expected in-memory tracking even without persistence")
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "converted.jsonl")); !os.IsNotExist(err) {
		t.Errorf("expected no state file, stat err = %v", err)
	}
}

func TestFileTrackerMarkTwiceAppendsOnce(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := tracker.MarkProcessed("hash-1", "one.eml"); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "converted.jsonl"))
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Errorf("state file has %d lines, want 1:\n%s", len(lines), data)
	}
}

func TestFileTrackerRejectsCorruptState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "converted.jsonl")
	if err := os.WriteFile(path, []byte("{\"hash\":\"ok\",\"name\":\"a.eml\"}\nnot json\n"), 0o600); err != nil {
		t.Fatalf("write state file: %v", err)
	}

	if _, err := NewFileTracker(dir, true); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}

func TestNewFileTrackerEmptyDir(t *testing.T) {
	if _, err := NewFileTracker("  ", true); err == nil {
		t.Fatal("expected error for empty state directory")
	}
}

func TestSQLiteTrackerPersistsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	tracker, err := NewSQLiteTracker(path, true)
	if err != nil {
		t.Fatalf("NewSQLiteTracker: %v", err)
	}
	if err := tracker.MarkProcessed("hash-1", "one.eml"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := tracker.MarkProcessed("hash-2", "two.eml"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded, err := NewSQLiteTracker(path, true)
	if err != nil {
		t.Fatalf("NewSQLiteTracker reload: %v", err)
	}
	defer reloaded.Close()

	for _, hash := range []string{"hash-1", "hash-2"} {
		if !reloaded.AlreadyProcessed(hash) {
			t.Errorf("expected %s to survive reload", hash)
		}
	}
	if got := reloaded.Snapshot().Processed; got != 2 {
		t.Errorf("Snapshot().Processed = %d, want 2", got)
	}
}

func TestSQLiteTrackerDryRunWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	tracker, err := NewSQLiteTracker(path, false)
	if err != nil {
		t.Fatalf("NewSQLiteTracker: %v", err)
	}
	if err := tracker.MarkProcessed("hash-1", "one.eml"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !tracker.AlreadyProcessed("hash-1") {
		t.Error("expected in-memory tracking even without persistence")
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded, err := NewSQLiteTracker(path, true)
	if err != nil {
		t.Fatalf("NewSQLiteTracker reload: %v", err)
	}
	defer reloaded.Close()

	if reloaded.AlreadyProcessed("hash-1") {
		t.Error("dry-run mark must not persist")
	}
}

func TestNewSQLiteTrackerEmptyPath(t *testing.T) {
	if _, err := NewSQLiteTracker("", true); err == nil {
		t.Fatal("expected error for empty database path")
	}
}
