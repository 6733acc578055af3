package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhcgn/ost-export/builder"
	"github.com/dhcgn/ost-export/eml"
	"github.com/dhcgn/ost-export/filter"
	"github.com/dhcgn/ost-export/mbox"
	"github.com/dhcgn/ost-export/source/memory"
)

func writeExport(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := builder.New(builder.Options{Now: func() time.Time { return now }, Hostname: "h"})

	w := mbox.NewWriter(mbox.Options{Now: func() time.Time { return now }, Hostname: "h"})
	for _, s := range []string{"one", "two", "two"} {
		if _, err := w.Append(b.Build(&memory.Message{SubjectText: s, Sender: "a@example.com"}), filepath.Join(dir, "Inbox.mbox")); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	ew := eml.NewWriter(nil)
	if _, err := ew.WriteOne(b.Build(&memory.Message{SubjectText: "sent"}), filepath.Join(dir, "Sent"), ""); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Sent", "broken.eml"), []byte("no header separator"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestInspect(t *testing.T) {
	dir := writeExport(t)
	report, err := Inspect(dir, nil)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if report.Messages != 4 || report.Folders["Inbox"] != 3 || report.Folders["Sent"] != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", report.Skipped)
	}
	if report.Headers["Subject"]["two"] != 2 {
		t.Errorf("subjects = %v", report.Headers["Subject"])
	}

	f, err := filter.New(filter.Options{ExcludeFolder: []string{"^Inbox$"}})
	if err != nil {
		t.Fatal(err)
	}
	report, err = Inspect(dir, f)
	if err != nil {
		t.Fatal(err)
	}
	if report.Messages != 1 {
		t.Errorf("filtered messages = %d, want 1", report.Messages)
	}
}

func TestInspectCommandWritesReports(t *testing.T) {
	dir := writeExport(t)
	reports := filepath.Join(t.TempDir(), "reports")

	cmd := NewInspectCommand()
	cmd.SetArgs([]string{dir, "--report-dir", reports, "--top", "3"})
	cmd.SetOut(os.Stderr)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, name := range []string{"report_folder.csv", "report_from.csv", "report_to.csv", "report_subject.csv"} {
		if _, err := os.Stat(filepath.Join(reports, name)); err != nil {
			t.Error(err)
		}
	}
}
