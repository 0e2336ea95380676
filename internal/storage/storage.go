// Package storage persists the mindwtr document.
//
// An Adapter loads and saves a whole AppData document. FileStore keeps it in
// a JSON file with atomic replace semantics, MemoryStore keeps it in memory,
// and the sqlite subpackage keeps it in a SQLite database.
//
// AppStore owns the single in-memory snapshot that the sync orchestrator and
// the local file watcher both read and write back into.
package storage

import (
	"context"
	"sync"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// Adapter loads and saves a complete document.
//
// SaveData must be atomic enough that a concurrent GetData never observes a
// torn document.
type Adapter interface {
	GetData(ctx context.Context) (schema.AppData, error)
	SaveData(ctx context.Context, data schema.AppData) error
}

// WriteMarker is notified around every write a FileStore makes, so a file
// watcher can tell the process's own writes from external ones.
type WriteMarker interface {
	MarkLocalWrite()
}

// MemoryStore is an Adapter that keeps the document in memory.
type MemoryStore struct {
	mu    sync.Mutex
	data  schema.AppData
	saves int

	// Err, when set, is returned by GetData and SaveData.
	Err error
}

// NewMemoryStore returns a MemoryStore holding a normalized copy of data.
func NewMemoryStore(data schema.AppData) *MemoryStore {
	return &MemoryStore{data: schema.Normalize(data)}
}

// GetData returns a copy of the stored document.
func (m *MemoryStore) GetData(ctx context.Context) (schema.AppData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return schema.AppData{}, m.Err
	}
	return m.data.Clone(), nil
}

// SaveData replaces the stored document with a normalized copy of data.
func (m *MemoryStore) SaveData(ctx context.Context, data schema.AppData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.data = schema.Normalize(data)
	m.saves++
	return nil
}

// Saves reports how many times SaveData succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SetErr sets the error returned by later calls.
func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}
