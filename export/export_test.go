package export

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhcgn/ost-export/builder"
	"github.com/dhcgn/ost-export/manifest"
	"github.com/dhcgn/ost-export/mbox"
	"github.com/dhcgn/ost-export/model"
	"github.com/dhcgn/ost-export/source/memory"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func envelope(b *builder.Builder, folder string, rec *memory.Message) model.Envelope {
	return model.Envelope{
		Job:      model.Job{Folder: folder, FolderPath: folder, OutputName: folder},
		Document: b.Build(rec),
		RecordID: rec.ID,
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"mbox": FormatMbox, " EML ": FormatEML} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("pst"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("ParseFormat(pst) err = %v", err)
	}
	if _, err := New(Options{Format: "pst", OutputDir: t.TempDir()}); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("New with bad format err = %v", err)
	}
}

func TestSinkMbox(t *testing.T) {
	out := t.TempDir()
	rec := manifest.NewMemoryRecorder()
	s, err := New(Options{Format: FormatMbox, OutputDir: out, Recorder: rec, Now: func() time.Time { return fixedNow }, Hostname: "h"})
	if err != nil {
		t.Fatal(err)
	}
	b := builder.New(builder.Options{Now: func() time.Time { return fixedNow }, Hostname: "h"})

	for _, env := range []model.Envelope{
		envelope(b, "Inbox", &memory.Message{SubjectText: "one"}),
		envelope(b, "Inbox", &memory.Message{SubjectText: "two"}),
		envelope(b, "Sent", &memory.Message{SubjectText: "three"}),
	} {
		if _, err := s.Write(env); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if _, err := s.Write(model.Envelope{}); err == nil {
		t.Error("expected error for envelope without document")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	for name, want := range map[string]int{"Inbox.mbox": 2, "Sent.mbox": 1} {
		n, err := mbox.CountMessages(filepath.Join(out, name))
		if err != nil || n != want {
			t.Errorf("%s holds %d messages (%v), want %d", name, n, err, want)
		}
	}

	entries := rec.Entries()
	if len(entries) != 3 {
		t.Fatalf("manifest entries = %d", len(entries))
	}
	if e := entries[2]; e.Path != "Sent.mbox" || e.Subject != "three" || e.Format != "mbox" || e.Bytes == 0 || e.MessageID == "" {
		t.Errorf("entry = %+v", e)
	}
}

func TestSinkEML(t *testing.T) {
	out := t.TempDir()
	rec := manifest.NewMemoryRecorder()
	s, err := New(Options{Format: FormatEML, OutputDir: out, Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}
	b := builder.New(builder.Options{Now: func() time.Time { return fixedNow }, Hostname: "h"})

	entry, err := s.Write(envelope(b, "Inbox", &memory.Message{ID: "42"}))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Path != "Inbox/message_42.eml" {
		t.Errorf("path = %q", entry.Path)
	}
	fi, err := os.Stat(filepath.Join(out, "Inbox", "message_42.eml"))
	if err != nil {
		t.Fatal(err)
	}
	if int(fi.Size()) != entry.Bytes {
		t.Errorf("bytes = %d, file has %d", entry.Bytes, fi.Size())
	}
	_ = s.Close()
}

func TestNewOutputDirFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{Format: FormatEML, OutputDir: filepath.Join(blocker, "out")}); err == nil {
		t.Error("expected error when the output directory cannot be created")
	}
}
