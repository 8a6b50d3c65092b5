package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhcgn/oft-to-eml/model"
)

func TestWriteDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "message.eml")

	if err := writeDocument(path, []byte("From: a@example.com\r\n\r\nbody\r\n")); err != nil {
		t.Fatalf("writeDocument() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "From: a@example.com\r\n\r\nbody\r\n" {
		t.Errorf("output content = %q", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the output file", len(entries))
	}
}

func TestWriteDocumentCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "message.eml")

	if err := writeDocument(path, []byte("x")); err != nil {
		t.Fatalf("writeDocument() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestWriteDocumentReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message.eml")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := writeDocument(path, []byte("new")); err != nil {
		t.Fatalf("writeDocument() error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("content = %q, want new", got)
	}
}

func TestOrNA(t *testing.T) {
	if got := orNA(""); got != "N/A" {
		t.Errorf("orNA(%q) = %q", "", got)
	}
	if got := orNA("a@example.com"); got != "a@example.com" {
		t.Errorf("orNA changed non-empty value to %q", got)
	}
}

func TestDisplayDate(t *testing.T) {
	rec := &model.Record{Date: time.Date(2023, 7, 14, 10, 30, 0, 0, time.UTC)}
	if got := displayDate(rec); got != "Fri, 14 Jul 2023 10:30:00 +0000" {
		t.Errorf("displayDate parsed = %q", got)
	}

	rec = &model.Record{RawDate: "someday soon"}
	if got := displayDate(rec); got != "someday soon" {
		t.Errorf("displayDate raw = %q", got)
	}

	rec = &model.Record{}
	if got := displayDate(rec); got != "" {
		t.Errorf("displayDate empty = %q", got)
	}
}
