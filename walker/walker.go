// Package walker traverses a container's folder tree depth first and turns
// every mail record into a conversion job.
package walker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/dhcgn/ost-export/classify"
	"github.com/dhcgn/ost-export/model"
	"github.com/dhcgn/ost-export/source"
)

// UnknownFolder names folders without a usable display name.
const UnknownFolder = "UnknownFolder"

// EmitFunc receives every job. A returned error stops the walk; it is meant
// for cancellation, not for per-message failures.
type EmitFunc func(ctx context.Context, job model.Job) error

type Options struct {
	Logger *slog.Logger
	// OnFolderError is called for every enumeration failure, after logging.
	OnFolderError func(folderPath string, err error)
}

// Walker is not safe for concurrent use.
type Walker struct {
	logger  *slog.Logger
	onError func(string, error)
	seq     uint64
}

func New(opts Options) *Walker {
	w := &Walker{logger: opts.Logger, onError: opts.OnFolderError}
	if w.logger == nil {
		w.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return w
}

// Walk visits every folder below roots. Sub-folders are visited before the
// folder's own messages. Enumeration failures are logged and the traversal
// continues with whatever was returned; only ctx cancellation or an emit
// error ends the walk early.
func (w *Walker) Walk(ctx context.Context, roots []source.Folder, emit EmitFunc) error {
	for _, root := range roots {
		if err := w.visit(ctx, root, "", emit); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) visit(ctx context.Context, folder source.Folder, parent string, emit EmitFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if folder == nil {
		return nil
	}

	display := UnknownFolder
	if name, err := guard(func() (string, error) {
		n, ok := folder.Name()
		if !ok {
			return "", nil
		}
		return n, nil
	}); err != nil {
		w.logger.Debug("folder name unavailable", "parent", parent, "err", err)
	} else if strings.TrimSpace(name) != "" {
		display = name
	}
	folderPath := path.Join(parent, strings.ReplaceAll(display, "/", "_"))
	w.logger.Info("processing folder", "folder", folderPath)

	subs, err := guard(folder.SubFolders)
	if err != nil {
		w.folderError(folderPath, fmt.Errorf("enumerate sub-folders: %w", err))
	}
	for _, sub := range subs {
		if err := w.visit(ctx, sub, folderPath, emit); err != nil {
			return err
		}
	}

	records, err := guard(folder.Messages)
	if err != nil {
		w.folderError(folderPath, fmt.Errorf("enumerate messages: %w", err))
	}
	outputName := FolderFileName(display)
	for i, rec := range records {
		if rec == nil {
			continue
		}
		w.seq++
		job := model.Job{
			Seq:        w.seq,
			Folder:     display,
			FolderPath: folderPath,
			OutputName: outputName,
			Index:      i,
			Record:     rec,
		}
		if err := emit(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) folderError(folderPath string, err error) {
	w.logger.Warn("folder traversal incomplete", "folder", folderPath, "err", err)
	if w.onError != nil {
		w.onError(folderPath, err)
	}
}

// FolderFileName turns a display name into a file or directory name. Folders
// with the same sanitized name share one output.
func FolderFileName(display string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(display)
	name = classify.SanitizeFilename(name)
	if name == "" || name == "." || name == ".." {
		return UnknownFolder
	}
	return name
}

// guard calls an enumeration of the external container and turns a panic into
// an error. A partial result is kept.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
