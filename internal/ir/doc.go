// Package ir provides the compiled representation of a tally command file.
//
// This package contains type definitions and serialization only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Jobs are immutable once compiled; workers only read them
//   - Repeat blocks own their nested body (no references back into the line)
//   - No float types anywhere; durations are integer milliseconds
//   - All JSON tags use snake_case
package ir
