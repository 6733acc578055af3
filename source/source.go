// Package source defines the read-only view of an already decoded mailbox
// container. Decoding the container itself is done by an Opener; the export
// engine only walks the folders, records and attachments exposed here.
//
// Every accessor that may be absent in the underlying container returns an
// explicit (value, ok) pair. Enumerations may return a partial result together
// with a non-nil error; callers keep whatever was returned.
package source

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrUnsupportedContainer = errors.New("no opener accepts this container")
	ErrNoFolders            = errors.New("container has no root folders")
)

// Container is an opened mailbox container.
type Container interface {
	RootFolders() ([]Folder, error)
	Close() error
}

// Folder is a node of the container's folder tree.
type Folder interface {
	Name() (string, bool)
	SubFolders() ([]Folder, error)
	Messages() ([]Record, error)
}

// Record is a single mail item as exposed by the container.
type Record interface {
	// Identifier is a stable per-message id (entry id, ordinal) used when a
	// name has to be synthesized.
	Identifier() (string, bool)
	Subject() (string, bool)
	SenderName() (string, bool)
	DisplayTo() (string, bool)
	DisplayCc() (string, bool)
	DeliveryTime() (time.Time, bool)
	HTMLBody() ([]byte, bool)
	PlainTextBody() ([]byte, bool)
	Attachments() ([]Attachment, error)
}

// Attachment is a binary attachment of a Record.
type Attachment interface {
	io.ReaderAt
	Name() (string, bool)
	Size() int64
}

// ReadAll reads the whole payload of an attachment. A missing or empty payload
// yields a nil slice and no error.
func ReadAll(att Attachment) ([]byte, error) {
	size := att.Size()
	if size <= 0 {
		return nil, nil
	}
	data, err := io.ReadAll(io.NewSectionReader(att, 0, size))
	if err != nil {
		return data, fmt.Errorf("read attachment payload: %w", err)
	}
	return data, nil
}

// Opener decodes a container format.
type Opener interface {
	Name() string
	Match(path string) bool
	Open(path string) (Container, error)
}

var (
	registryMu sync.RWMutex
	registry   []Opener
)

// Register adds an opener to the global registry. Call this from an init
// function of the package implementing the container format.
func Register(o Opener) {
	registryMu.Lock()
	registry = append(registry, o)
	registryMu.Unlock()
}

// Openers returns every registered opener.
func Openers() []Opener {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Opener, len(registry))
	copy(out, registry)
	return out
}

// Open opens path with the first registered opener that accepts it and
// returns its root folders. Both failure modes are fatal for an export run.
func Open(path string) (Container, []Folder, error) {
	for _, o := range Openers() {
		if !o.Match(path) {
			continue
		}
		c, err := o.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: open %s: %w", o.Name(), path, err)
		}
		roots, err := c.RootFolders()
		if err != nil && len(roots) == 0 {
			_ = c.Close()
			return nil, nil, fmt.Errorf("%s: root folders: %w", o.Name(), err)
		}
		if len(roots) == 0 {
			_ = c.Close()
			return nil, nil, ErrNoFolders
		}
		return c, roots, nil
	}
	return nil, nil, fmt.Errorf("%s: %w", path, ErrUnsupportedContainer)
}
