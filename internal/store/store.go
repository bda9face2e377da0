// Package store persists the set of monitored streams to a YAML file and
// watches it for external edits. Persistence failures are logged and
// surfaced but never take the engine down.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kvkushal/hls-stream-ops/internal/monitor"
)

// fileFormat is the on-disk layout.
type fileFormat struct {
	Streams []monitor.StreamConfig `yaml:"streams"`
}

// FileStore reads and writes the streams file.
type FileStore struct {
	path string

	mu        sync.Mutex
	lastWrite time.Time
}

// New creates a store for the given file path. The file need not exist.
func New(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the streams file. A missing file is an empty configuration,
// not an error.
func (s *FileStore) Load() ([]monitor.StreamConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read streams file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse streams file: %w", err)
	}
	return f.Streams, nil
}

// Save writes the full stream set atomically: temp file in the same
// directory, then rename.
func (s *FileStore) Save(streams []monitor.StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(fileFormat{Streams: streams})
	if err != nil {
		return fmt.Errorf("failed to marshal streams: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create streams dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".streams-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write streams file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close streams file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace streams file: %w", err)
	}

	s.lastWrite = time.Now()
	return nil
}

// recentlySaved reports whether a write happened close enough to now that
// a filesystem event is probably our own Save, not an external edit.
func (s *FileStore) recentlySaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastWrite) < 500*time.Millisecond
}
