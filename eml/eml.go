// Package eml writes one .eml file per document.
package eml

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dhcgn/ost-export/model"
)

const (
	Extension = ".eml"
	// maxNameBytes keeps names below common filesystem limits once the
	// extension and a collision suffix are added.
	maxNameBytes = 200
)

type Writer struct {
	logger *slog.Logger
}

func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{logger: logger}
}

// WriteOne writes doc into dir and returns the file path. The name comes from
// the subject; id names the file when the subject has no usable characters.
// An existing file is never overwritten: a numeric suffix is added instead.
func (w *Writer) WriteOne(doc *model.Document, dir, id string) (string, error) {
	if doc == nil {
		return "", errors.New("nil document")
	}
	raw, err := doc.Bytes()
	if err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	if id == "" {
		id = doc.MessageID()
	}
	base := BaseName(doc.Subject(), id)
	for i := 0; ; i++ {
		name := base + Extension
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, Extension)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := f.Write(raw); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close %s: %w", name, err)
		}
		w.logger.Debug("wrote message", "path", path, "bytes", len(raw))
		return path, nil
	}
}

// BaseName derives a filesystem-safe name without extension. Letters,
// digits, dots, underscores and spaces are kept; spaces become underscores.
func BaseName(subject, id string) string {
	name := keepSafe(subject)
	if name == "" {
		name = "message_" + keepSafe(id)
		if name == "message_" {
			name = "message_unknown"
		}
	}
	return truncate(name, maxNameBytes)
}

func keepSafe(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	// a leading dot would hide the file
	return strings.TrimLeft(b.String(), ".")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
