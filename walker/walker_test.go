package walker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dhcgn/ost-export/model"
	"github.com/dhcgn/ost-export/source"
	"github.com/dhcgn/ost-export/source/memory"
)

type panickyFolder struct{ memory.Folder }

func (p *panickyFolder) Name() (string, bool) { panic("name table corrupt") }

func (p *panickyFolder) SubFolders() ([]source.Folder, error) { panic("subtree corrupt") }

func collect(t *testing.T, roots []source.Folder) ([]model.Job, []string) {
	t.Helper()
	var failed []string
	w := New(Options{OnFolderError: func(p string, err error) { failed = append(failed, p) }})
	var jobs []model.Job
	err := w.Walk(context.Background(), roots, func(_ context.Context, job model.Job) error {
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return jobs, failed
}

func roots(folders ...*memory.Folder) []source.Folder {
	out := make([]source.Folder, len(folders))
	for i, f := range folders {
		out[i] = f
	}
	return out
}

func subjects(jobs []model.Job) string {
	var s []string
	for _, j := range jobs {
		subject, _ := j.Record.Subject()
		s = append(s, j.FolderPath+":"+subject)
	}
	return strings.Join(s, ",")
}

func TestWalkDepthFirst(t *testing.T) {
	tree := &memory.Folder{
		DisplayName: "Inbox",
		Records:     []*memory.Message{{SubjectText: "i1"}, {SubjectText: "i2"}},
		Folders: []*memory.Folder{
			{DisplayName: "Projects", Records: []*memory.Message{{SubjectText: "p1"}}},
		},
	}
	sent := &memory.Folder{DisplayName: "Sent Items", Records: []*memory.Message{{SubjectText: "s1"}}}

	jobs, failed := collect(t, roots(tree, sent))
	if len(failed) != 0 {
		t.Errorf("unexpected folder errors: %v", failed)
	}
	want := "Inbox/Projects:p1,Inbox:i1,Inbox:i2,Sent Items:s1"
	if got := subjects(jobs); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
	for i, j := range jobs {
		if j.Seq != uint64(i+1) {
			t.Errorf("job %d seq = %d", i, j.Seq)
		}
	}
	if jobs[0].OutputName != "Projects" || jobs[3].OutputName != "Sent Items" {
		t.Errorf("output names = %q, %q", jobs[0].OutputName, jobs[3].OutputName)
	}
	if jobs[2].Index != 1 {
		t.Errorf("index = %d, want 1", jobs[2].Index)
	}
}

func TestWalkEnumerationFailureKeepsSiblings(t *testing.T) {
	broken := &memory.Folder{
		DisplayName: "Broken",
		Records:     []*memory.Message{{SubjectText: "b1"}, {SubjectText: "b2"}, {SubjectText: "b3"}},
		MessagesErr: errors.New("corrupt message table"),
		FailAfter:   1,
		Folders:     []*memory.Folder{{DisplayName: "Child", Records: []*memory.Message{{SubjectText: "c1"}}}},
		FoldersErr:  errors.New("corrupt hierarchy"),
	}
	before := &memory.Folder{DisplayName: "Before", Records: []*memory.Message{{SubjectText: "x"}}}
	after := &memory.Folder{DisplayName: "After", Records: []*memory.Message{{SubjectText: "y"}}}

	jobs, failed := collect(t, roots(before, broken, after))
	want := "Before:x,Broken/Child:c1,Broken:b1,After:y"
	if got := subjects(jobs); got != want {
		t.Errorf("jobs = %s, want %s", got, want)
	}
	if len(failed) != 2 || failed[0] != "Broken" {
		t.Errorf("failed folders = %v", failed)
	}
}

func TestWalkRecoversPanickingFolder(t *testing.T) {
	bad := &panickyFolder{memory.Folder{Records: []*memory.Message{{SubjectText: "kept"}}}}
	ok := &memory.Folder{DisplayName: "Fine", Records: []*memory.Message{{SubjectText: "z"}}}

	jobs, failed := collect(t, []source.Folder{bad, ok})
	want := UnknownFolder + ":kept,Fine:z"
	if got := subjects(jobs); got != want {
		t.Errorf("jobs = %s, want %s", got, want)
	}
	if len(failed) != 1 {
		t.Errorf("failed folders = %v", failed)
	}
}

func TestWalkSkipsNilRecordsAndFolders(t *testing.T) {
	f := &memory.Folder{DisplayName: "Inbox", Records: []*memory.Message{{SubjectText: "a"}}}
	var jobs []model.Job
	err := New(Options{}).Walk(context.Background(), []source.Folder{nil, f}, func(_ context.Context, j model.Job) error {
		jobs = append(jobs, j)
		return nil
	})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Walk = %v, %d jobs", err, len(jobs))
	}
}

func TestWalkStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &memory.Folder{
		DisplayName: "Inbox",
		Records:     []*memory.Message{{SubjectText: "a"}, {SubjectText: "b"}},
		Folders:     []*memory.Folder{{DisplayName: "Sub"}},
	}
	calls := 0
	err := New(Options{}).Walk(ctx, roots(f, f), func(ctx context.Context, _ model.Job) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("emit called %d times", calls)
	}
}

func TestFolderFileName(t *testing.T) {
	tests := map[string]string{
		"Inbox":         "Inbox",
		"Sent/Archive":  "Sent_Archive",
		`a\b`:           "a_b",
		"Notes: 2024?":  "Notes 2024",
		"  ":            UnknownFolder,
		"..":            UnknownFolder,
		"Posteingang ü": "Posteingang ü",
	}
	for in, want := range tests {
		if got := FolderFileName(in); got != want {
			t.Errorf("FolderFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
