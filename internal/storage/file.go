package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// lockRetryDelay is how often a blocked writer retries the file lock.
const lockRetryDelay = 50 * time.Millisecond

// ErrInvalidPayload is returned when a stored document has the wrong shape.
var ErrInvalidPayload = errors.New("invalid sync payload")

// FileStore is an Adapter backed by a single JSON file.
//
// Writes go to a temporary file in the same directory which is synced and
// renamed over the target while an advisory lock on <path>.lock is held, so
// readers see either the old or the new document.
type FileStore struct {
	path string
	lock *flock.Flock

	mu     sync.Mutex
	marker WriteMarker

	// writeMu serializes writers in this process; the file lock only
	// excludes other processes.
	writeMu sync.Mutex
}

// NewFileStore returns a FileStore for the document at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the document path.
func (s *FileStore) Path() string {
	return s.path
}

// SetWriteMarker installs m to be notified before and after each write.
// A nil m removes the marker.
func (s *FileStore) SetWriteMarker(m WriteMarker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = m
}

// ReadRaw reads and decodes the file into a generic JSON value. A missing or
// empty file decodes to nil.
func (s *FileStore) ReadRaw(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	v, err := schema.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return v, nil
}

// GetData reads the document. A missing file yields an empty document.
func (s *FileStore) GetData(ctx context.Context) (schema.AppData, error) {
	raw, err := s.ReadRaw(ctx)
	if err != nil {
		return schema.AppData{}, err
	}
	if problems := schema.ValidatePayload(raw, "local"); len(problems) > 0 {
		return schema.AppData{}, fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
	}
	return schema.FromAny(raw), nil
}

// SaveData atomically replaces the file with data.
func (s *FileStore) SaveData(ctx context.Context, data schema.AppData) error {
	encoded, err := schema.Marshal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	marker := s.marker
	s.mu.Unlock()
	if marker != nil {
		marker.MarkLocalWrite()
		defer marker.MarkLocalWrite()
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s: lock is held elsewhere", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	return WriteFileAtomic(s.path, encoded)
}

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
