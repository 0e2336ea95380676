// Package merge implements record-level last-write-wins merging of two
// mindwtr documents.
//
// # Rules
//
// Each collection (tasks, projects, sections, areas) is merged by id:
//
//   - A record present on one side only is kept (union semantics).
//   - A record present on both sides resolves to the copy with the later
//     operation time. For live records that is updatedAt; for tombstones it
//     is the later of updatedAt and deletedAt.
//   - Equal operation times with identical content are not a conflict.
//   - Equal operation times with different content are a conflict, resolved
//     to the local copy.
//
// A tombstone takes part in the same comparison as any other edit, so a
// newer delete propagates and a newer edit resurrects.
//
// The engine has no I/O and never fails. Malformed input is normalized
// before merging.
//
// # Statistics
//
// Merge reports EntityStats per collection. The orchestrator sums
// Conflicts to choose between a "success" and a "conflict" sync status and
// uses MaxClockSkewMs to warn about devices with drifting clocks.
//
// # Settings
//
// Settings are merged by MergeSettings. See its documentation for the group
// rules.
//
// # Maintenance
//
// PurgeExpiredTombstones and SanitizeForRemote are applied by the sync
// orchestrator around a merge, never by Merge itself.
package merge
