package mbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/ost-export/model"
)

// DefaultFrom is used for documents without a From header and for the
// separator line when no address can be parsed.
const DefaultFrom = "unknown@example.com"

// fromLine matches body lines that a reader would mistake for a separator.
var fromLine = regexp.MustCompile(`(?m)^(>*From )`)

type Options struct {
	Now      func() time.Time
	Hostname string
	Logger   *slog.Logger
}

// Writer appends documents to mailbox files. Files stay open until Close.
// A Writer must be owned by a single goroutine: it is the exclusive writer of
// every file it opens.
type Writer struct {
	now      func() time.Time
	hostname string
	logger   *slog.Logger
	seq      atomic.Uint64
	files    map[string]*os.File
}

func NewWriter(opts Options) *Writer {
	w := &Writer{
		now:      opts.Now,
		hostname: opts.Hostname,
		logger:   opts.Logger,
		files:    make(map[string]*os.File),
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.hostname == "" {
		w.hostname, _ = os.Hostname()
		if w.hostname == "" {
			w.hostname = "localhost"
		}
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return w
}

// AppendAll appends every document to the mailbox at path. A document that
// fails to serialize or write is logged and skipped; the returned error joins
// those failures and never means the remaining documents were dropped.
func (w *Writer) AppendAll(docs []*model.Document, path string) (int, error) {
	f, err := w.open(path)
	if err != nil {
		w.logger.Error("cannot open mailbox", "path", path, "err", err)
		return 0, err
	}

	var (
		written int
		errs    []error
	)
	for i, doc := range docs {
		n, err := w.append(f, doc)
		if err != nil {
			err = fmt.Errorf("document %d: %w", i, err)
			w.logger.Error("error exporting message to mbox", "path", path, "err", err)
			errs = append(errs, err)
			continue
		}
		w.logger.Debug("appended message", "path", path, "messageID", doc.MessageID(), "bytes", n)
		written++
	}
	return written, errors.Join(errs...)
}

// Append appends a single document and returns the number of bytes written.
func (w *Writer) Append(doc *model.Document, path string) (int, error) {
	f, err := w.open(path)
	if err != nil {
		return 0, err
	}
	return w.append(f, doc)
}

func (w *Writer) append(f *os.File, doc *model.Document) (int, error) {
	framed, err := w.Frame(doc)
	if err != nil {
		return 0, err
	}
	// One write per document so a failed serialization never leaves half a
	// message behind.
	n, err := f.Write(framed)
	if err != nil {
		return n, fmt.Errorf("write mailbox: %w", err)
	}
	return n, nil
}

// Frame returns the separator line, the escaped CRLF document and the
// trailing blank lines. Missing From, Date and Message-ID headers are filled
// in on a copy; doc itself is not modified.
func (w *Writer) Frame(doc *model.Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}
	now := w.now()
	d := &model.Document{Header: doc.Header.Copy(), Parts: doc.Parts}
	if !d.Header.Has("From") {
		d.Header.SetAddressList("From", []*mail.Address{{Address: DefaultFrom}})
	}
	if !d.Header.Has("Date") {
		d.Header.SetDate(now)
	}
	if !d.Header.Has("Message-Id") {
		d.Header.SetMessageID(fmt.Sprintf("%d.%d@%s", now.UnixNano(), w.seq.Add(1), w.hostname))
	}

	raw, err := d.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}

	from, ok := d.FromAddress()
	if !ok {
		from = DefaultFrom
	}
	from = strings.Join(strings.Fields(from), "")

	var buf bytes.Buffer
	buf.Grow(len(raw) + 128)
	// The separator carries the export time, not the document's Date.
	fmt.Fprintf(&buf, "From %s %s\r\n", from, now.UTC().Format(time.ANSIC))
	buf.Write(fromLine.ReplaceAll(NormalizeCRLF(raw), []byte(">$1")))
	if !bytes.HasSuffix(buf.Bytes(), []byte("\r\n")) {
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n\r\n")
	return buf.Bytes(), nil
}

// Close closes every mailbox file opened by the writer.
func (w *Writer) Close() error {
	var errs []error
	for path, f := range w.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(w.files, path)
	}
	return errors.Join(errs...)
}

func (w *Writer) open(path string) (*os.File, error) {
	if f, ok := w.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create mailbox directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}
	w.files[path] = f
	return f, nil
}

// NormalizeCRLF rewrites every line ending (CRLF, CR or LF) as CRLF.
func NormalizeCRLF(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	b = bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}
