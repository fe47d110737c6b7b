// Package store is the SQLite persistence layer.
//
// It keeps three things per run:
//   - the delta journal, one row per broadcast envelope keyed by (run, seq)
//   - digest checkpoints used to verify a replay
//   - closed orders written by the history dispatcher
//
// Ordering always comes from seq, never from timestamps. Writes are
// idempotent (ON CONFLICT DO NOTHING) so a retried append is harmless.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
