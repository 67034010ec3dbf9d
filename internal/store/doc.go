// Package store keeps mcpcheck run history in SQLite.
//
// Each suite run is one row in runs plus one row per test case in
// test_cases. Writes are idempotent on the run id, so re-recording a result
// is a no-op.
//
// # Ordering
//
// Runs are ordered by seq, the insertion counter, never by started_at:
// clocks on the machines that produced the results may disagree. Test cases
// keep the order the suite recorded them in (ordinal).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
