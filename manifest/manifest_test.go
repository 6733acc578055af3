package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "manifest.jsonl")

	for run := 0; run < 2; run++ {
		rec, err := NewFileRecorder(path)
		if err != nil {
			t.Fatalf("NewFileRecorder: %v", err)
		}
		err = rec.Record(Entry{Folder: "Inbox", MessageID: "<1@h>", Subject: "Grüße", Path: "Inbox.mbox", Format: "mbox", Bytes: 120})
		if err != nil {
			t.Fatal(err)
		}
		if s := rec.Snapshot(); s.Recorded != 1 || s.Bytes != 120 {
			t.Errorf("snapshot = %+v", s)
		}
		if err := rec.Close(); err != nil {
			t.Fatal(err)
		}
		if err := rec.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
	}

	entries, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].Subject != "Grüße" || entries[1].Format != "mbox" {
		t.Errorf("entry = %+v", entries[1])
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	entries, err := Load(filepath.Join(dir, "missing.jsonl"))
	if err != nil || entries != nil {
		t.Errorf("missing manifest = %v, %v", entries, err)
	}

	bad := filepath.Join(dir, "bad.jsonl")
	if err := os.WriteFile(bad, []byte("{\"folder\":\"a\"}\n\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewFileRecorderEmptyPath(t *testing.T) {
	if _, err := NewFileRecorder(" "); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestMemoryRecorder(t *testing.T) {
	m := NewMemoryRecorder()
	_ = m.Record(Entry{Path: "a", Bytes: 3})
	_ = m.Record(Entry{Path: "b", Bytes: 4})
	if s := m.Snapshot(); s.Recorded != 2 || s.Bytes != 7 {
		t.Errorf("snapshot = %+v", s)
	}
	got := m.Entries()
	got[0].Path = "changed"
	if m.Entries()[0].Path != "a" {
		t.Error("Entries shares its backing array")
	}
}
