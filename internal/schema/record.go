package schema

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is one task, project, section or area. Fields are kept as decoded
// JSON so that unknown fields round-trip untouched.
type Record map[string]any

// ID returns the record id, or "" if missing or not a string.
func (r Record) ID() string {
	return strings.TrimSpace(r.String("id"))
}

// String returns the string value of key, or "".
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Title returns the record's display name (title for tasks and projects,
// name for areas).
func (r Record) Title() string {
	if t := r.String("title"); t != "" {
		return t
	}
	return r.String("name")
}

func (r Record) UpdatedAt() string { return r.String("updatedAt") }
func (r Record) CreatedAt() string { return r.String("createdAt") }
func (r Record) DeletedAt() string { return r.String("deletedAt") }
func (r Record) PurgedAt() string  { return r.String("purgedAt") }

// IsDeleted reports whether the record is a tombstone.
func (r Record) IsDeleted() bool {
	return r.DeletedAt() != ""
}

// UpdatedMillis returns updatedAt as Unix milliseconds, or -1 when it is
// missing or unparseable. Records with unusable timestamps therefore lose
// every comparison against a record with a valid one.
func (r Record) UpdatedMillis() int64 {
	t, ok := ParseTime(r.UpdatedAt())
	if !ok {
		return -1
	}
	return t.UnixMilli()
}

// OperationMillis returns the time of the last operation on the record:
// updatedAt for live records, and the later of updatedAt and deletedAt for
// tombstones. An unparseable deletedAt falls back to updatedAt.
func (r Record) OperationMillis() int64 {
	updated := r.UpdatedMillis()
	if !r.IsDeleted() {
		return updated
	}
	deleted, ok := ParseTime(r.DeletedAt())
	if !ok {
		return updated
	}
	if ms := deleted.UnixMilli(); ms > updated {
		return ms
	}
	return updated
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Record(cloneObject(map[string]any(r)))
}

// Touch sets updatedAt to now.
func (r Record) Touch(now time.Time) {
	r["updatedAt"] = FormatTime(now)
}

// FilterDeleted returns the records that are not tombstones.
func FilterDeleted(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if !r.IsDeleted() {
			out = append(out, r)
		}
	}
	return out
}

// FindByID returns the record with the given id.
func FindByID(records []Record, id string) (Record, bool) {
	for _, r := range records {
		if r.ID() == id {
			return r, true
		}
	}
	return nil, false
}

// timeLayouts are tried in order by ParseTime.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp. Timestamps without a zone are
// read as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t the way every client writes timestamps:
// UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func cloneObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneObject(t)
	case Record:
		return cloneObject(map[string]any(t))
	case Settings:
		return cloneObject(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}
