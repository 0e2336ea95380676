package schema

import (
	"encoding/json"
	"fmt"
)

// Settings holds user preferences and last-sync metadata.
type Settings map[string]any

// Keys owned by the sync orchestrator. They are overwritten after every
// sync run and never taken from a remote copy.
const (
	KeyLastSyncAt      = "lastSyncAt"
	KeyLastSyncStatus  = "lastSyncStatus"
	KeyLastSyncError   = "lastSyncError"
	KeyLastSyncStats   = "lastSyncStats"
	KeyLastSyncHistory = "lastSyncHistory"
)

// SyncOwnedKeys lists the orchestrator-owned settings keys.
var SyncOwnedKeys = []string{
	KeyLastSyncAt,
	KeyLastSyncStatus,
	KeyLastSyncError,
	KeyLastSyncStats,
	KeyLastSyncHistory,
}

// Other settings keys read by the sync engine.
const (
	KeyUpdatedAt                = "updatedAt"
	KeyDeviceID                 = "deviceId"
	KeySyncPreferences          = "syncPreferences"
	KeySyncPreferencesUpdatedAt = "syncPreferencesUpdatedAt"
)

// Clone returns a deep copy of the settings.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	return Settings(cloneObject(map[string]any(s)))
}

// String returns the string value of key, or "".
func (s Settings) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Object returns the object value of key, or nil.
func (s Settings) Object(key string) map[string]any {
	m, _ := asObject(s[key])
	return m
}

// SyncHistoryEntry is one item of settings.lastSyncHistory.
type SyncHistoryEntry struct {
	At             string   `json:"at" yaml:"at"`
	Status         string   `json:"status" yaml:"status"`
	Backend        string   `json:"backend,omitempty" yaml:"backend,omitempty"`
	Type           string   `json:"type,omitempty" yaml:"type,omitempty"`
	Conflicts      int      `json:"conflicts" yaml:"conflicts"`
	ConflictIDs    []string `json:"conflictIds" yaml:"conflictIds"`
	MaxClockSkewMs int64    `json:"maxClockSkewMs" yaml:"maxClockSkewMs"`
	Details        string   `json:"details,omitempty" yaml:"details,omitempty"`
	Error          string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// History decodes settings.lastSyncHistory. Entries without a timestamp
// are skipped.
func (s Settings) History() []SyncHistoryEntry {
	items, ok := s[KeyLastSyncHistory].([]any)
	if !ok {
		if typed, ok := s[KeyLastSyncHistory].([]SyncHistoryEntry); ok {
			return append([]SyncHistoryEntry(nil), typed...)
		}
		return nil
	}
	out := make([]SyncHistoryEntry, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var entry SyncHistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil || entry.At == "" {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// AppendHistory prepends entry to the sync history and keeps at most limit
// entries, newest first.
func (s Settings) AppendHistory(entry SyncHistoryEntry, limit int) error {
	if limit < 1 {
		limit = 1
	}
	entries := append([]SyncHistoryEntry{entry}, s.History()...)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	generic := make([]any, 0, len(entries))
	for _, e := range entries {
		if e.ConflictIDs == nil {
			e.ConflictIDs = []string{}
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode history entry: %w", err)
		}
		v, err := decodeJSON(data)
		if err != nil {
			return fmt.Errorf("failed to decode history entry: %w", err)
		}
		generic = append(generic, v)
	}
	s[KeyLastSyncHistory] = generic
	return nil
}
