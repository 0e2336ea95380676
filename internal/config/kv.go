package config

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mindwtr/mindwtr/internal/storage"
	"github.com/mindwtr/mindwtr/internal/storage/sqlite"
)

// KV is a flat string key/value store.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Keys() ([]string, error)
}

// MapKV is an in-memory KV.
type MapKV struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMapKV returns a MapKV holding a copy of values.
func NewMapKV(values map[string]string) *MapKV {
	m := &MapKV{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MapKV) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MapKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MapKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MapKV) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// TOMLKV keeps keys in a TOML file. It is the fallback store used when no
// managed database is available, and the legacy store migrated from.
type TOMLKV struct {
	path string
	mu   sync.Mutex
}

// NewTOMLKV returns a KV backed by the TOML file at path. The file is
// created on first write.
func NewTOMLKV(path string) *TOMLKV {
	return &TOMLKV{path: path}
}

// Path returns the backing file path.
func (t *TOMLKV) Path() string { return t.path }

func (t *TOMLKV) load() (map[string]string, error) {
	values := make(map[string]string)
	if _, err := toml.DecodeFile(t.path, &values); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", t.path, err)
	}
	return values, nil
}

func (t *TOMLKV) save(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(values); err != nil {
		return fmt.Errorf("failed to encode %s: %w", t.path, err)
	}
	if err := storage.WriteFileAtomic(t.path, buf.Bytes()); err != nil {
		return err
	}
	return os.Chmod(t.path, 0600)
}

func (t *TOMLKV) Get(key string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	values, err := t.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (t *TOMLKV) Set(key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	values, err := t.load()
	if err != nil {
		return err
	}
	values[key] = value
	return t.save(values)
}

func (t *TOMLKV) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	values, err := t.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return t.save(values)
}

func (t *TOMLKV) Keys() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	values, err := t.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// SQLiteKV is the managed KV, kept in a SQLite database.
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLiteKV opens db and creates the kv table if needed.
func OpenSQLiteKV(ctx context.Context, db *sqlite.DB) (*SQLiteKV, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	_, err := db.RawDB().ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kv table: %w", err)
	}
	return &SQLiteKV{db: db.RawDB()}, nil
}

func (s *SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(key, value string) error {
	_, err := s.db.Exec(`
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
