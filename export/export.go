// Package export routes built documents to the mailbox or per-message
// serializer and records what was written.
package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhcgn/ost-export/eml"
	"github.com/dhcgn/ost-export/manifest"
	"github.com/dhcgn/ost-export/mbox"
	"github.com/dhcgn/ost-export/model"
)

type Format string

const (
	FormatMbox Format = "mbox"
	FormatEML  Format = "eml"
)

var ErrInvalidFormat = errors.New("format must be mbox or eml")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatMbox, FormatEML:
		return f, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidFormat)
}

type Options struct {
	Format    Format
	OutputDir string
	// Recorder receives an entry per written document. Optional.
	Recorder manifest.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
	Hostname string
}

// Sink owns every output file of a run. It must be used from one goroutine.
type Sink struct {
	format   Format
	outDir   string
	mbox     *mbox.Writer
	eml      *eml.Writer
	recorder manifest.Recorder
	logger   *slog.Logger
}

// New validates the format and creates the output directory. Both failures
// are fatal for a run.
func New(opts Options) (*Sink, error) {
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, errors.New("output directory is empty")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Sink{
		format:   opts.Format,
		outDir:   opts.OutputDir,
		recorder: opts.Recorder,
		logger:   logger,
	}
	switch opts.Format {
	case FormatMbox:
		s.mbox = mbox.NewWriter(mbox.Options{Now: opts.Now, Hostname: opts.Hostname, Logger: logger})
	case FormatEML:
		s.eml = eml.NewWriter(logger)
	}
	return s, nil
}

func (s *Sink) Format() Format { return s.format }

// Target returns the mailbox file or message directory for a folder.
func (s *Sink) Target(outputName string) string {
	if s.format == FormatMbox {
		return filepath.Join(s.outDir, outputName+".mbox")
	}
	return filepath.Join(s.outDir, outputName)
}

// Write serializes one envelope. A failure concerns only this document: it
// is logged and returned, and the sink stays usable.
func (s *Sink) Write(env model.Envelope) (manifest.Entry, error) {
	entry := manifest.Entry{
		Folder: env.Job.FolderPath,
		Format: string(s.format),
	}
	if env.Document == nil {
		return entry, errors.New("envelope without document")
	}
	entry.MessageID = env.Document.MessageID()
	entry.Subject = env.Document.Subject()

	target := s.Target(env.Job.OutputName)
	switch s.format {
	case FormatMbox:
		n, err := s.mbox.Append(env.Document, target)
		if err != nil {
			s.logger.Error("error exporting message to mbox", "folder", env.Job.FolderPath, "path", target, "err", err)
			return entry, err
		}
		entry.Path, entry.Bytes = target, n
	case FormatEML:
		path, err := s.eml.WriteOne(env.Document, target, env.RecordID)
		if err != nil {
			s.logger.Error("error exporting message to eml", "folder", env.Job.FolderPath, "dir", target, "err", err)
			return entry, err
		}
		entry.Path = path
		if fi, statErr := os.Stat(path); statErr == nil {
			entry.Bytes = int(fi.Size())
		}
	}

	if rel, err := filepath.Rel(s.outDir, entry.Path); err == nil {
		entry.Path = filepath.ToSlash(rel)
	}
	if s.recorder != nil {
		if err := s.recorder.Record(entry); err != nil {
			s.logger.Warn("manifest entry not recorded", "path", entry.Path, "err", err)
		}
	}
	return entry, nil
}

// Close closes open mailbox files and the recorder.
func (s *Sink) Close() error {
	var errs []error
	if s.mbox != nil {
		errs = append(errs, s.mbox.Close())
	}
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}
	return errors.Join(errs...)
}
