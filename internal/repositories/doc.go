// Package repositories implements SQLite persistence for the local session cache.
//
// [SessionRepository] handles CRUD operations with atomic sequence generation for human-readable ordering.
// It supports soft deletes via deleted_at timestamps and excludes deleted records from queries by default.
//
// Sessions record the last known status of every workflow started or watched from this machine, so a
// later watch can skip opening a transport for a session that already finished.
//
// Sequence numbers provide stable, human-readable ordering (e.g., session #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
