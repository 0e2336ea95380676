// Package sqlite stores the mindwtr document in an embedded SQLite database.
//
// The database runs in WAL mode through the pure-Go ncruces driver, so the
// desktop app and the CLI can read it while the other writes.
//
// Layout:
//   - records: one row per record, keyed by (collection, id), ordered by
//     position so the document round-trips in its original order
//   - settings: a single row holding the settings object
//
// SaveData replaces the whole snapshot in one transaction; GetData never
// observes a half-written document.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// DB is a storage.Adapter backed by SQLite.
type DB struct {
	conn *sql.DB
	path string
}

// CollectionCount summarizes one collection.
type CollectionCount struct {
	Total      int `json:"total" yaml:"total"`
	Tombstones int `json:"tombstones" yaml:"tombstones"`
}

// Open creates or opens the database at path and initializes the schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := sqlite.Open("~/.mindwtr/mindwtr.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		updated_at TEXT,
		deleted_at TEXT,
		body TEXT NOT NULL,  -- JSON object
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		body TEXT NOT NULL,  -- JSON object
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_order ON records(collection, position);
	CREATE INDEX IF NOT EXISTS idx_records_deleted ON records(collection, deleted_at);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// GetData reads the stored document. An empty database yields an empty
// document.
func (db *DB) GetData(ctx context.Context) (schema.AppData, error) {
	out := schema.Empty()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT collection, body FROM records ORDER BY collection, position`)
	if err != nil {
		return schema.AppData{}, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	byCollection := make(map[string][]schema.Record)
	for rows.Next() {
		var collection, body string
		if err := rows.Scan(&collection, &body); err != nil {
			return schema.AppData{}, fmt.Errorf("failed to scan record: %w", err)
		}
		obj, err := decodeObject(body)
		if err != nil {
			return schema.AppData{}, fmt.Errorf("failed to decode %s record: %w", collection, err)
		}
		byCollection[collection] = append(byCollection[collection], schema.Record(obj))
	}
	if err := rows.Err(); err != nil {
		return schema.AppData{}, fmt.Errorf("failed to iterate records: %w", err)
	}
	for _, name := range schema.Collections {
		if records, ok := byCollection[name]; ok {
			out.SetCollection(name, records)
		}
	}

	var settingsBody string
	err = db.conn.QueryRowContext(ctx, `SELECT body FROM settings WHERE id = 1`).Scan(&settingsBody)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return schema.AppData{}, fmt.Errorf("failed to query settings: %w", err)
	default:
		obj, err := decodeObject(settingsBody)
		if err != nil {
			return schema.AppData{}, fmt.Errorf("failed to decode settings: %w", err)
		}
		out.Settings = schema.Settings(obj)
	}

	return schema.Normalize(out), nil
}

// SaveData replaces the stored document with data in a single transaction.
func (db *DB) SaveData(ctx context.Context, data schema.AppData) error {
	data = schema.Normalize(data)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, `
	INSERT INTO records (collection, id, position, updated_at, deleted_at, body)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()

	for _, name := range schema.Collections {
		for i, record := range data.Collection(name) {
			body, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("failed to marshal %s %s: %w", name, record.ID(), err)
			}
			_, err = insert.ExecContext(ctx,
				name,
				record.ID(),
				i,
				nullString(record.UpdatedAt()),
				nullString(record.DeletedAt()),
				string(body),
			)
			if err != nil {
				return fmt.Errorf("failed to insert %s %s: %w", name, record.ID(), err)
			}
		}
	}

	settingsJSON, err := json.Marshal(data.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO settings (id, body, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	`, string(settingsJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Counts returns per-collection totals.
func (db *DB) Counts(ctx context.Context) (map[string]CollectionCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT collection,
		COUNT(*),
		SUM(CASE WHEN deleted_at IS NOT NULL AND deleted_at != '' THEN 1 ELSE 0 END)
	FROM records
	GROUP BY collection
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]CollectionCount, len(schema.Collections))
	for _, name := range schema.Collections {
		counts[name] = CollectionCount{}
	}
	for rows.Next() {
		var name string
		var c CollectionCount
		if err := rows.Scan(&name, &c.Total, &c.Tombstones); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[name] = c
	}
	return counts, rows.Err()
}

func decodeObject(body string) (map[string]any, error) {
	v, err := schema.Decode([]byte(body))
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object")
	}
	return obj, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
