// Package schema defines the synchronizable mindwtr document and the
// normalization rules every other package relies on.
//
// # Document Shape
//
// An AppData document holds four record collections and one settings object:
//
//	{
//	  "tasks":    [ {"id": "t1", "updatedAt": "2026-01-01T00:00:00Z", ...} ],
//	  "projects": [ ... ],
//	  "sections": [ ... ],
//	  "areas":    [ ... ],
//	  "settings": { "theme": "dark", "lastSyncAt": "...", ... }
//	}
//
// Records are kept as generic JSON objects (Record) so that fields written by
// other clients survive a round trip through this module untouched. Typed
// accessors cover the handful of fields the sync engine reads: id, updatedAt,
// deletedAt, purgedAt and createdAt.
//
// # Tombstones
//
// A record carrying a non-empty deletedAt is a tombstone. It stays in the
// document so that the deletion can propagate through later merges. Display
// code filters tombstones with FilterDeleted; sync code never drops them
// except through the retention purge in package merge.
//
// # Normalization
//
// Normalize is total and idempotent:
//
//	normalized := schema.Normalize(raw)
//	again := schema.Normalize(normalized) // equal to normalized
//
// Every collection is a non-nil slice and settings is a non-nil map. Records
// without a usable id are dropped and duplicate ids collapse into one record.
// The result never shares memory with the input, so callers may mutate it
// freely.
//
// # Parsing
//
// Parse accepts the bytes of a sync file as other tools write them: a leading
// byte order mark, trailing NUL padding from interrupted writes, and junk
// around the outermost JSON object are all tolerated. Values that are not
// JSON at all are reported as errors.
package schema
