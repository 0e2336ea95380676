package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task statuses understood by every client.
const (
	StatusInbox    = "inbox"
	StatusNext     = "next"
	StatusWaiting  = "waiting"
	StatusSomeday  = "someday"
	StatusDone     = "done"
	StatusArchived = "archived"
)

var validStatuses = map[string]bool{
	StatusInbox:    true,
	StatusNext:     true,
	StatusWaiting:  true,
	StatusSomeday:  true,
	StatusDone:     true,
	StatusArchived: true,
}

// NewTask creates an inbox task with a fresh id.
func NewTask(title string, now time.Time) (Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if len(title) > 500 {
		return nil, fmt.Errorf("title must be 500 characters or less (got %d)", len(title))
	}
	ts := FormatTime(now)
	return Record{
		"id":        uuid.NewString(),
		"title":     title,
		"status":    StatusInbox,
		"tags":      []any{},
		"contexts":  []any{},
		"createdAt": ts,
		"updatedAt": ts,
	}, nil
}

// SetStatus changes a task's status and bumps updatedAt.
func SetStatus(task Record, status string, now time.Time) error {
	if !validStatuses[status] {
		return fmt.Errorf("invalid status %q", status)
	}
	task["status"] = status
	if status == StatusDone {
		task["completedAt"] = FormatTime(now)
	}
	task.Touch(now)
	return nil
}

// MarkDeleted turns a record into a tombstone. updatedAt and deletedAt are
// both set so the deletion wins against any older edit.
func MarkDeleted(r Record, now time.Time) {
	ts := FormatTime(now)
	r["deletedAt"] = ts
	r["updatedAt"] = ts
}

// VisibleTasks returns tasks that are neither tombstones nor archived.
func VisibleTasks(tasks []Record) []Record {
	out := make([]Record, 0, len(tasks))
	for _, t := range tasks {
		if t.IsDeleted() || t.String("status") == StatusArchived {
			continue
		}
		out = append(out, t)
	}
	return out
}

// EnsureDeviceID returns settings.deviceId, generating and storing one if
// absent. The boolean reports whether settings changed.
func EnsureDeviceID(s Settings) (string, bool) {
	if id := s.String(KeyDeviceID); id != "" {
		return id, false
	}
	id := uuid.NewString()
	s[KeyDeviceID] = id
	return id, true
}
