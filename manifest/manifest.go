// Package manifest records every written document.
package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Entry describes one written document.
type Entry struct {
	Folder    string `json:"folder"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	Path      string `json:"path"`
	Format    string `json:"format"`
	Bytes     int    `json:"bytes"`
}

type Recorder interface {
	Record(e Entry) error
	Snapshot() Snapshot
	Close() error
}

type Snapshot struct {
	Recorded int
	Bytes    int64
}

type MemoryRecorder struct {
	mu      sync.RWMutex
	entries []Entry
	bytes   int64
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.bytes += int64(e.Bytes)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of every recorded entry in order.
func (m *MemoryRecorder) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *MemoryRecorder) Snapshot() Snapshot {
	m.mu.RLock()
	s := Snapshot{Recorded: len(m.entries), Bytes: m.bytes}
	m.mu.RUnlock()
	return s
}

func (m *MemoryRecorder) Close() error { return nil }

// FileRecorder appends one JSON line per entry to a manifest file.
type FileRecorder struct {
	path     string
	writer   *bufio.Writer
	file     *os.File
	mu       sync.Mutex
	recorded int
	bytes    int64
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("manifest path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open manifest for append: %w", err)
	}

	return &FileRecorder{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024), // 64KB buffer
	}, nil
}

func (f *FileRecorder) Path() string {
	return f.path
}

func (f *FileRecorder) Record(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode manifest entry: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write manifest entry: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	f.recorded++
	f.bytes += int64(e.Bytes)
	return nil
}

func (f *FileRecorder) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{Recorded: f.recorded, Bytes: f.bytes}
}

// Flush writes any buffered data to the underlying file.
func (f *FileRecorder) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync manifest: %w", err)
	}
	return nil
}

// Close flushes and closes the manifest file.
func (f *FileRecorder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}

	var firstErr error
	if err := f.writer.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush manifest: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync manifest: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close manifest: %w", err)
	}
	f.file = nil

	return firstErr
}

// Load reads every entry of a manifest file. A missing file yields no
// entries.
func Load(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("parse manifest line %d: %w", line, err)
		}
		entries = append(entries, e)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return entries, nil
}
