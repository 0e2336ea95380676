// Package migrate imports documents written by other mindwtr clients, older
// versions, or task exports into the local store.
//
// Two input formats are accepted:
//
//   - a JSON document with the usual tasks/projects/sections/areas/settings
//     shape, including the legacy mindwtr-sync.json
//   - JSONL, one task object per line
//
// The imported document is merged into the local one through the merge
// engine, so importing the same file twice is a no-op.
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mindwtr/mindwtr/internal/canonical"
	"github.com/mindwtr/mindwtr/internal/merge"
	"github.com/mindwtr/mindwtr/internal/schema"
	"github.com/mindwtr/mindwtr/internal/storage"
)

// Format is the detected input format.
type Format string

const (
	FormatDocument Format = "document"
	FormatJSONL    Format = "jsonl"
)

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	From          string // Input file path
	DryRun        bool   // Preview without writing
	Backup        bool   // Copy the local document next to the input first
	RetentionDays int    // Tombstone retention; 0 uses the default
	Now           func() time.Time
}

// ImportResult contains statistics about the import.
type ImportResult struct {
	Format        Format
	Records       int
	Stats         merge.Stats
	Changed       bool
	Purged        int
	BackupCreated string
	Errors        []string
}

// ImportFile reads opts.From and merges it into store. The store's pending
// edits are flushed first. In dry-run mode nothing is written and the
// result describes what would change.
func ImportFile(ctx context.Context, store *storage.AppStore, opts ImportOptions) (*ImportResult, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	// #nosec G304 - controlled path from CLI
	raw, err := os.ReadFile(opts.From)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	result := &ImportResult{}
	incoming, format, err := Decode(raw, result)
	if err != nil {
		return nil, err
	}
	result.Format = format
	result.Records = incoming.RecordCount()

	if err := store.FlushPendingSave(ctx); err != nil {
		return nil, fmt.Errorf("failed to save pending edits: %w", err)
	}
	end := store.BeginMerge()
	defer end()

	local := store.Snapshot()
	at := now()
	merged := merge.MergeAt(local, incoming, at)
	data, purged := merge.PurgeExpiredTombstones(merged.Data, at, opts.RetentionDays)
	result.Stats = merged.Stats
	result.Purged = purged
	result.Changed = !canonical.Equal(local, data)

	if problems := schema.ValidateMerged(data); len(problems) > 0 {
		return nil, fmt.Errorf("imported data is invalid: %s", strings.Join(problems, "; "))
	}
	if opts.DryRun || !result.Changed {
		return result, nil
	}

	if opts.Backup {
		backupPath := opts.From + ".local-backup." + now().Format("20060102-150405")
		body, err := schema.Marshal(local)
		if err != nil {
			return nil, fmt.Errorf("failed to encode backup: %w", err)
		}
		if err := storage.WriteFileAtomic(backupPath, body); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	if err := store.Replace(ctx, data); err != nil {
		return nil, err
	}
	return result, nil
}

// Decode detects the format of raw and converts it to a normalized
// document. Skipped JSONL lines are recorded in result.Errors when result is
// non-nil.
func Decode(raw []byte, result *ImportResult) (schema.AppData, Format, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return schema.AppData{}, "", fmt.Errorf("import file is empty")
	}

	if isDocument(trimmed) {
		v, err := schema.Decode(trimmed)
		if err != nil {
			return schema.AppData{}, "", fmt.Errorf("invalid JSON document: %w", err)
		}
		if problems := schema.ValidatePayload(v, "import"); len(problems) > 0 {
			return schema.AppData{}, "", fmt.Errorf("invalid import document: %s", strings.Join(problems, "; "))
		}
		return schema.FromAny(v), FormatDocument, nil
	}

	tasks, err := FromJSONL(bytes.NewReader(trimmed), result)
	if err != nil {
		return schema.AppData{}, "", err
	}
	data := schema.Empty()
	data.Tasks = tasks
	return schema.Normalize(data), FormatJSONL, nil
}

// isDocument reports whether raw is a single JSON object carrying at least
// one document key. A one-line JSONL task file is a single object too.
func isDocument(raw []byte) bool {
	if raw[0] != '{' {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Several objects on separate lines.
		return false
	}
	for _, key := range append([]string{"settings"}, schema.Collections...) {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

// FromJSONL reads task objects, one per line. Blank lines are skipped;
// lines that are not objects or lack an id are skipped and reported.
func FromJSONL(r io.Reader, result *ImportResult) ([]schema.Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var tasks []schema.Record
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var task schema.Record
		if err := json.Unmarshal(line, &task); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		if task == nil || task.ID() == "" {
			if result != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: task has no id", lineNum))
			}
			continue
		}
		tasks = append(tasks, task)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("line %d is too long: %w", lineNum+1, err)
		}
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks found")
	}
	return tasks, nil
}
