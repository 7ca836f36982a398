// Package store provides the SQLite run ledger.
//
// Each finished run is recorded once, after the final barrier:
//   - runs: one row per run (arguments, program hash, totals, outcome)
//   - run_counters: the final value of every counter of that run
//
// The ledger is write-once history. Recorded final values are for
// inspection (tally history) only: nothing is ever loaded back into a
// counter bank, and every run starts from zero whatever the ledger holds.
//
// # Ordering
//
//   - runs.seq is an autoincrement key giving recording order
//   - ListRuns returns newest first: ORDER BY seq DESC
//   - counters are returned ORDER BY counter_id ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
