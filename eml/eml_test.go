package eml

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message"

	"github.com/dhcgn/ost-export/builder"
	"github.com/dhcgn/ost-export/model"
	"github.com/dhcgn/ost-export/source/memory"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func buildDocs() []*model.Document {
	b := builder.New(builder.Options{Now: func() time.Time { return fixedNow }, Hostname: "test.host"})
	return []*model.Document{
		b.Build(&memory.Message{SubjectText: "Quarterly report: Q1/2024", HTML: []byte("<p>numbers</p>")}),
		b.Build(&memory.Message{SubjectText: "Quarterly report: Q1/2024", Plain: []byte("again")}),
		b.Build(&memory.Message{ID: "entry-42", Files: []*memory.Attachment{{Filename: "x.zip", Data: []byte("PK")}}}),
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		subject, id, want string
	}{
		{"Hello World", "", "Hello_World"},
		{"Re: invoice #12 (final).pdf", "", "Re_invoice_12_final.pdf"},
		{"Grüße", "", "Grüße"},
		{"", "entry-42", "message_entry42"},
		{"???", "", "message_unknown"},
		{"...hidden", "", "hidden"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.subject, tt.id); got != tt.want {
			t.Errorf("BaseName(%q, %q) = %q, want %q", tt.subject, tt.id, got, tt.want)
		}
	}

	long := BaseName(strings.Repeat("ü", 300), "")
	if len(long) > maxNameBytes || !strings.HasPrefix(long, "ü") || strings.ContainsRune(long, '\uFFFD') {
		t.Errorf("long name not truncated on a rune boundary: %d bytes", len(long))
	}
}

func TestWriteOne(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Inbox")
	w := NewWriter(nil)
	docs := buildDocs()

	var paths []string
	for i, doc := range docs {
		path, err := w.WriteOne(doc, dir, []string{"", "", "entry-42"}[i])
		if err != nil {
			t.Fatalf("WriteOne %d: %v", i, err)
		}
		paths = append(paths, filepath.Base(path))
	}

	want := []string{"Quarterly_report_Q12024.eml", "Quarterly_report_Q12024_1.eml", "message_entry42.eml"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("paths = %v, want %v", paths, want)
	}

	data, err := os.ReadFile(filepath.Join(dir, want[0]))
	if err != nil {
		t.Fatal(err)
	}
	e, err := message.Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("written file does not parse: %v", err)
	}
	if got := e.Header.Get("Subject"); got != "Quarterly report: Q1/2024" {
		t.Errorf("Subject = %q", got)
	}
}

func TestWriteOneIsIdempotentAcrossRuns(t *testing.T) {
	root := t.TempDir()
	run := func(name string) map[string][]byte {
		dir := filepath.Join(root, name)
		w := NewWriter(nil)
		for _, doc := range buildDocs() {
			if _, err := w.WriteOne(doc, dir, ""); err != nil {
				t.Fatal(err)
			}
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		out := make(map[string][]byte)
		for _, e := range entries {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatal(err)
			}
			out[e.Name()] = data
		}
		return out
	}

	first, second := run("first"), run("second")
	if len(first) != 3 || len(first) != len(second) {
		t.Fatalf("file counts differ: %d vs %d", len(first), len(second))
	}
	for name, data := range first {
		if !bytes.Equal(data, second[name]) {
			t.Errorf("%s differs between runs", name)
		}
	}
}

func TestWriteOneFailures(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w := NewWriter(nil)
	if _, err := w.WriteOne(buildDocs()[0], filepath.Join(blocker, "sub"), ""); err == nil {
		t.Error("expected directory creation to fail")
	}
	if _, err := w.WriteOne(nil, dir, ""); err == nil {
		t.Error("expected nil document to fail")
	}
	broken := &model.Document{Parts: []*model.Part{{Body: []byte("x")}}}
	if _, err := w.WriteOne(broken, dir, "x"); err == nil {
		t.Error("expected serialization failure")
	}
	if _, err := os.Stat(filepath.Join(dir, "message_x.eml")); !os.IsNotExist(err) {
		t.Error("failed document left a file behind")
	}
}
