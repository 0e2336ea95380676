// Package syncer runs sync cycles between the local document and a remote
// backend.
//
// # Overview
//
// A cycle reads the local document and the remote copy, merges them with
// record-level last-write-wins (package merge), writes the result locally,
// then writes a sanitized copy to the remote and reloads the store. Local is
// always written before remote, so a local persistence failure can never
// leave the remote ahead.
//
// # Concurrency
//
// At most one cycle runs at a time. Calls to Start while a cycle is running
// share its Flight and queue exactly one follow-up cycle:
//
//	idle -> running -> (queued) -> running -> idle
//
// The orchestrator and the local file watcher both fold other copies of the
// document into the store; they serialize on AppStore.BeginMerge.
//
// # Failures
//
// Failures never escape as errors from PerformSync. They are returned in
// Result and, except for configuration problems detected before any I/O,
// recorded in the sync-owned settings (lastSyncStatus, lastSyncError,
// lastSyncHistory).
package syncer
