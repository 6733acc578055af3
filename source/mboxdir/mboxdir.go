// Package mboxdir exposes a directory of mbox files as a mailbox container.
// Every *.mbox file is a folder; every sub-directory is a folder whose
// children are read the same way. A single .mbox file is a container with
// one folder.
package mboxdir

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/ost-export/source"
)

const Extension = ".mbox"

func init() {
	source.Register(&Opener{})
}

// Opener opens mbox directories and files. A nil Logger uses slog.Default.
type Opener struct {
	Logger *slog.Logger
}

func (o *Opener) Name() string { return "mboxdir" }

func (o *Opener) Match(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir() || strings.EqualFold(filepath.Ext(path), Extension)
}

func (o *Opener) Open(path string) (source.Container, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	c := &Container{path: path, single: !fi.IsDir(), logger: o.Logger}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

type Container struct {
	path   string
	single bool
	logger *slog.Logger
}

func (c *Container) RootFolders() ([]source.Folder, error) {
	if c.single {
		return []source.Folder{&Folder{path: c.path, logger: c.logger}}, nil
	}
	return listDir(c.path, c.logger)
}

func (c *Container) Close() error { return nil }

// Folder is either an mbox file or a directory.
type Folder struct {
	path   string
	dir    bool
	logger *slog.Logger
}

func (f *Folder) Name() (string, bool) {
	name := filepath.Base(f.path)
	if !f.dir {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name, name != ""
}

func (f *Folder) SubFolders() ([]source.Folder, error) {
	if !f.dir {
		return nil, nil
	}
	return listDir(f.path, f.logger)
}

// Messages parses every message of the mbox file. Messages that do not parse
// are logged and skipped; a read error ends the enumeration and is returned
// with the records parsed so far.
func (f *Folder) Messages() ([]source.Record, error) {
	if f.dir {
		return nil, nil
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	var records []source.Record
	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("message %d: %w", idx, err)
		}
		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return records, fmt.Errorf("message %d read: %w", idx, err)
		}
		rec, err := Parse(raw)
		if err != nil {
			f.logger.Warn("skipping unparseable message", "path", f.path, "index", idx, "err", err)
			continue
		}
		if rec.id == "" {
			rec.id = fmt.Sprintf("%s_%d", strings.TrimSuffix(filepath.Base(f.path), filepath.Ext(f.path)), idx)
		}
		records = append(records, rec)
	}
}

func listDir(path string, logger *slog.Logger) ([]source.Folder, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var folders []source.Folder
	for _, e := range entries {
		full := filepath.Join(path, e.Name())
		switch {
		case e.IsDir():
			folders = append(folders, &Folder{path: full, dir: true, logger: logger})
		case strings.EqualFold(filepath.Ext(e.Name()), Extension):
			folders = append(folders, &Folder{path: full, logger: logger})
		}
	}
	return folders, nil
}

// Record is a message parsed from an mbox file.
type Record struct {
	id, subject, sender, to, cc string
	date                        time.Time
	html, plain                 []byte
	attachments                 []*Attachment
}

// Parse reads one RFC 5322 message. Only a header that cannot be read at all
// is an error; broken parts end the part list.
func Parse(raw []byte) (*Record, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	rec := &Record{}
	h := mr.Header
	rec.id, _ = h.MessageID()
	rec.subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		rec.sender = from[0].String()
	} else {
		rec.sender, _ = h.Text("From")
	}
	rec.to, _ = h.Text("To")
	rec.cc, _ = h.Text("Cc")
	rec.date, _ = h.Date()

	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		body, err := io.ReadAll(p.Body)
		if err != nil {
			break
		}
		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, params, _ := ph.ContentType()
			switch {
			case ct == "text/html" && rec.html == nil:
				rec.html = body
			case (ct == "text/plain" || ct == "") && rec.plain == nil:
				rec.plain = body
			default:
				rec.attachments = append(rec.attachments, &Attachment{name: params["name"], data: body})
			}
		case *mail.AttachmentHeader:
			name, _ := ph.Filename()
			rec.attachments = append(rec.attachments, &Attachment{name: name, data: body})
		}
	}
	return rec, nil
}

func (r *Record) Identifier() (string, bool)    { return r.id, r.id != "" }
func (r *Record) Subject() (string, bool)       { return r.subject, r.subject != "" }
func (r *Record) SenderName() (string, bool)    { return r.sender, r.sender != "" }
func (r *Record) DisplayTo() (string, bool)     { return r.to, r.to != "" }
func (r *Record) DisplayCc() (string, bool)     { return r.cc, r.cc != "" }
func (r *Record) HTMLBody() ([]byte, bool)      { return r.html, r.html != nil }
func (r *Record) PlainTextBody() ([]byte, bool) { return r.plain, r.plain != nil }

func (r *Record) DeliveryTime() (time.Time, bool) {
	return r.date, !r.date.IsZero()
}

func (r *Record) Attachments() ([]source.Attachment, error) {
	out := make([]source.Attachment, len(r.attachments))
	for i, a := range r.attachments {
		out[i] = a
	}
	return out, nil
}

type Attachment struct {
	name string
	data []byte
}

func (a *Attachment) Name() (string, bool) { return a.name, a.name != "" }

func (a *Attachment) Size() int64 { return int64(len(a.data)) }

func (a *Attachment) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(a.data).ReadAt(p, off)
}
