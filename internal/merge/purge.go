package merge

import (
	"time"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// Tombstone retention bounds, in days.
const (
	DefaultTombstoneRetentionDays = 90
	MinTombstoneRetentionDays     = 1
	MaxTombstoneRetentionDays     = 3650
)

// ResolveRetentionDays clamps days into the supported range. Zero or
// negative values select the default.
func ResolveRetentionDays(days int) int {
	if days < MinTombstoneRetentionDays {
		return DefaultTombstoneRetentionDays
	}
	if days > MaxTombstoneRetentionDays {
		return MaxTombstoneRetentionDays
	}
	return days
}

// PurgeExpiredTombstones drops task tombstones whose purgedAt is older than
// the retention window. Tombstones without purgedAt, or with an unparseable
// one, are kept forever. It returns the pruned copy and the number of tasks
// removed.
func PurgeExpiredTombstones(data schema.AppData, now time.Time, retentionDays int) (schema.AppData, int) {
	out := data.Clone()
	days := ResolveRetentionDays(retentionDays)
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	kept := make([]schema.Record, 0, len(out.Tasks))
	removed := 0
	for _, task := range out.Tasks {
		if task.IsDeleted() && task.PurgedAt() != "" {
			if purgedAt, ok := schema.ParseTime(task.PurgedAt()); ok && !purgedAt.After(cutoff) {
				removed++
				continue
			}
		}
		kept = append(kept, task)
	}
	out.Tasks = kept
	return out, removed
}
