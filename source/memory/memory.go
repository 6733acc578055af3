// Package memory is an in-memory mailbox container. It backs tests and lets
// callers inject enumeration failures.
package memory

import (
	"bytes"
	"io"
	"time"

	"github.com/dhcgn/ost-export/source"
)

// Container holds a fixed set of root folders.
type Container struct {
	Folders []*Folder
	Err     error
}

func (c *Container) RootFolders() ([]source.Folder, error) {
	out := make([]source.Folder, 0, len(c.Folders))
	for _, f := range c.Folders {
		out = append(out, f)
	}
	return out, c.Err
}

func (c *Container) Close() error { return nil }

// Folder is a folder node. FoldersErr and MessagesErr are returned alongside
// the already enumerated entries; FailAfter truncates Messages to that many
// entries before the error is reported, mimicking a mid-iteration failure.
type Folder struct {
	DisplayName string
	Folders     []*Folder
	Records     []*Message
	FoldersErr  error
	MessagesErr error
	FailAfter   int
}

func (f *Folder) Name() (string, bool) {
	return f.DisplayName, f.DisplayName != ""
}

func (f *Folder) SubFolders() ([]source.Folder, error) {
	out := make([]source.Folder, 0, len(f.Folders))
	for _, sub := range f.Folders {
		out = append(out, sub)
	}
	return out, f.FoldersErr
}

func (f *Folder) Messages() ([]source.Record, error) {
	records := f.Records
	if f.MessagesErr != nil && f.FailAfter < len(records) {
		records = records[:f.FailAfter]
	}
	out := make([]source.Record, 0, len(records))
	for _, m := range records {
		out = append(out, m)
	}
	return out, f.MessagesErr
}

// Message is a mail record. Empty strings, nil bodies and a zero time mean
// the field is absent. Panic makes every accessor panic with that value.
type Message struct {
	ID             string
	SubjectText    string
	Sender         string
	To             string
	Cc             string
	Delivered      time.Time
	HTML           []byte
	Plain          []byte
	Files          []*Attachment
	AttachmentsErr error
	Panic          any
}

func (m *Message) check() {
	if m.Panic != nil {
		panic(m.Panic)
	}
}

func (m *Message) Identifier() (string, bool) { m.check(); return m.ID, m.ID != "" }

func (m *Message) Subject() (string, bool) { m.check(); return m.SubjectText, m.SubjectText != "" }

func (m *Message) SenderName() (string, bool) { m.check(); return m.Sender, m.Sender != "" }

func (m *Message) DisplayTo() (string, bool) { m.check(); return m.To, m.To != "" }

func (m *Message) DisplayCc() (string, bool) { m.check(); return m.Cc, m.Cc != "" }

func (m *Message) DeliveryTime() (time.Time, bool) {
	m.check()
	return m.Delivered, !m.Delivered.IsZero()
}

func (m *Message) HTMLBody() ([]byte, bool) { m.check(); return m.HTML, m.HTML != nil }

func (m *Message) PlainTextBody() ([]byte, bool) { m.check(); return m.Plain, m.Plain != nil }

func (m *Message) Attachments() ([]source.Attachment, error) {
	m.check()
	out := make([]source.Attachment, 0, len(m.Files))
	for _, a := range m.Files {
		out = append(out, a)
	}
	return out, m.AttachmentsErr
}

// Attachment is an attachment payload. ReadErr is returned by every read.
type Attachment struct {
	Filename string
	Data     []byte
	ReadErr  error
}

func (a *Attachment) Name() (string, bool) { return a.Filename, a.Filename != "" }

func (a *Attachment) Size() int64 { return int64(len(a.Data)) }

func (a *Attachment) ReadAt(p []byte, off int64) (int, error) {
	if a.ReadErr != nil {
		return 0, a.ReadErr
	}
	if off >= int64(len(a.Data)) {
		return 0, io.EOF
	}
	return bytes.NewReader(a.Data).ReadAt(p, off)
}
