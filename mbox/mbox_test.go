package mbox

import (
	"strings"
	"testing"
)

const readSample = "From a@example.com Mon Jan  1 00:00:00 2024\n" +
	"From: Alice <a@example.com>\n" +
	"Subject: first\n" +
	"\n" +
	"body one\n" +
	"\n" +
	"From b@example.com Mon Jan  1 00:00:00 2024\n" +
	"this line is not a header\n" +
	"\n" +
	"body two\n" +
	"\n" +
	"From c@example.com Mon Jan  1 00:00:00 2024\n" +
	"Subject: third\n" +
	"\n" +
	"body three\n"

func TestReadFromSkipsUnparseableMessages(t *testing.T) {
	var subjects []string
	var skipped []int
	err := ReadFrom(strings.NewReader(readSample), func(m *MboxMessage) error {
		subjects = append(subjects, m.Headers.Get("Subject"))
		return nil
	}, func(idx int, err error) {
		skipped = append(skipped, idx)
	})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(subjects) != 2 || subjects[0] != "first" || subjects[1] != "third" {
		t.Errorf("subjects = %q", subjects)
	}
	if len(skipped) != 1 || skipped[0] != 1 {
		t.Errorf("skipped = %v, want [1]", skipped)
	}
}

func TestReadMissingFile(t *testing.T) {
	if err := Read(t.TempDir()+"/missing.mbox", func(*MboxMessage) error { return nil }, nil); err == nil {
		t.Error("expected error for missing file")
	}
}
