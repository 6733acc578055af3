// Package classify names and types attachment payloads. Content signatures
// are checked first and the file extension is the fallback.
package classify

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
)

var pdfMagic = []byte("%PDF-")

// Result is a classified attachment.
type Result struct {
	Filename string
	Type     string
	Subtype  string
	// FromSignature is set when the payload's leading bytes decided the type.
	FromSignature bool
	// Empty is set for an absent or empty payload; callers usually skip it.
	Empty bool
}

// MediaType returns "type/subtype".
func (r Result) MediaType() string {
	return r.Type + "/" + r.Subtype
}

// IsText reports whether the attachment is a text/* part.
func (r Result) IsText() bool {
	return r.Type == "text"
}

// Classifier resolves attachment names and types against a Table.
type Classifier struct {
	table Table
}

// New creates a Classifier. A nil table uses DefaultTable.
func New(table Table) *Classifier {
	if table == nil {
		table = DefaultTable
	}
	return &Classifier{table: table}
}

// Classify never fails. ordinal identifies the attachment inside its message
// and is used to synthesize a name when the suggested one is unusable.
func (c *Classifier) Classify(data []byte, suggested string, ordinal int) Result {
	name := SanitizeFilename(suggested)
	if name == "" {
		name = fmt.Sprintf("attachment_%d", ordinal)
	}

	res := Result{Filename: name, Empty: len(data) == 0}

	if bytes.HasPrefix(data, pdfMagic) {
		res.Type, res.Subtype = "application", "pdf"
		res.FromSignature = true
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			res.Filename = name + ".pdf"
		}
		return res
	}

	mediaType := DefaultType
	ext := Extension(name)
	// The extension is taken from name, so office and archive attachments
	// resolved through the table already end in it.
	if typ, ok := c.table.Lookup(ext); ok {
		mediaType = typ
	}
	res.Type, res.Subtype = splitMediaType(mediaType)
	return res
}

// Classify uses DefaultTable.
func Classify(data []byte, suggested string, ordinal int) Result {
	return New(nil).Classify(data, suggested, ordinal)
}

// SanitizeFilename drops non-printable runes and the characters that break
// paths or header parameters.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if !unicode.IsPrint(r) || strings.ContainsRune(`\/*?:"<>|`, r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}

// Extension returns the lowercase text after the last dot, or "".
func Extension(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

func splitMediaType(mediaType string) (string, string) {
	major, minor, ok := strings.Cut(mediaType, "/")
	if !ok || major == "" || minor == "" {
		return "application", "octet-stream"
	}
	return major, minor
}
