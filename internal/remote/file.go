package remote

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mindwtr/mindwtr/internal/schema"
	"github.com/mindwtr/mindwtr/internal/storage"
)

// DefaultSyncFileName is the file used when the sync path is a folder.
const DefaultSyncFileName = "data.json"

// FileClient uses a JSON document on a shared path, typically a folder kept
// in sync by a third-party file sync tool.
type FileClient struct {
	store *storage.FileStore
}

// NewFileClient returns a client for path. A path without a .json suffix is
// treated as a folder holding data.json.
func NewFileClient(path string) (*FileClient, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sync file path is not configured")
	}
	return &FileClient{store: storage.NewFileStore(ResolveSyncFile(path))}, nil
}

// ResolveSyncFile returns the document path for a configured sync path.
func ResolveSyncFile(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return filepath.Clean(path)
	}
	return filepath.Join(path, DefaultSyncFileName)
}

// Path returns the shared document path.
func (c *FileClient) Path() string { return c.store.Path() }

// GetJSON reads the shared document.
func (c *FileClient) GetJSON(ctx context.Context) (any, error) {
	return c.store.ReadRaw(ctx)
}

// PutJSON atomically replaces the shared document.
func (c *FileClient) PutJSON(ctx context.Context, data schema.AppData) error {
	return c.store.SaveData(ctx, data)
}

func (c *FileClient) String() string {
	return "file " + c.store.Path()
}
