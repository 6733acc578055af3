package model

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Part is a node of a MIME document. A part with Children is a multipart
// container and its Body is ignored.
type Part struct {
	Header   message.Header
	Body     []byte
	Children []*Part
}

// MediaType returns the part's Content-Type without parameters.
func (p *Part) MediaType() string {
	t, _, err := p.Header.ContentType()
	if err != nil {
		return ""
	}
	return t
}

// IsMultipart reports whether the part is a container.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.MediaType(), "multipart/")
}

// Document is a complete email: the root header carries the envelope fields
// and the multipart/mixed Content-Type, Parts are the mixed container's children.
type Document struct {
	Header mail.Header
	Parts  []*Part
}

// Subject returns the decoded Subject header.
func (d *Document) Subject() string {
	s, err := d.Header.Subject()
	if err != nil {
		return d.Header.Get("Subject")
	}
	return s
}

// MessageID returns the Message-ID without angle brackets.
func (d *Document) MessageID() string {
	id, err := d.Header.MessageID()
	if err != nil {
		return strings.Trim(d.Header.Get("Message-Id"), " <>")
	}
	return id
}

// Date returns the parsed Date header.
func (d *Document) Date() (time.Time, bool) {
	if !d.Header.Has("Date") {
		return time.Time{}, false
	}
	t, err := d.Header.Date()
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// FromAddress returns the first parseable address of the From header.
func (d *Document) FromAddress() (string, bool) {
	addrs, err := d.Header.AddressList("From")
	if err != nil || len(addrs) == 0 || addrs[0].Address == "" {
		return "", false
	}
	return addrs[0].Address, true
}

// Walk visits every part depth-first, the root excluded.
func (d *Document) Walk(fn func(p *Part, depth int)) {
	var walk func(parts []*Part, depth int)
	walk = func(parts []*Part, depth int) {
		for _, p := range parts {
			fn(p, depth)
			walk(p.Children, depth+1)
		}
	}
	walk(d.Parts, 0)
}

// WriteTo serializes the document with CRLF line endings. Bodies are
// encoded according to each part's Content-Transfer-Encoding.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	mw, err := message.CreateWriter(cw, d.Header.Header)
	if err != nil {
		return cw.n, fmt.Errorf("create document writer: %w", err)
	}
	if err := writeChildren(mw, d.Parts); err != nil {
		return cw.n, err
	}
	if err := mw.Close(); err != nil {
		return cw.n, fmt.Errorf("close document writer: %w", err)
	}
	return cw.n, nil
}

// Bytes returns the serialized document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeChildren(w *message.Writer, parts []*Part) error {
	for i, p := range parts {
		pw, err := w.CreatePart(p.Header)
		if err != nil {
			return fmt.Errorf("create part %d (%s): %w", i, p.MediaType(), err)
		}
		if p.IsMultipart() {
			err = writeChildren(pw, p.Children)
		} else {
			_, err = pw.Write(p.Body)
		}
		if err != nil {
			_ = pw.Close()
			return fmt.Errorf("write part %d (%s): %w", i, p.MediaType(), err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("close part %d (%s): %w", i, p.MediaType(), err)
		}
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
