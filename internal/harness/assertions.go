package harness

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Evaluate checks r against every set field of e and returns one message
// per mismatch.
func Evaluate(e Expectation, r *Result) []string {
	var errs []string

	for id, got := range r.Counters {
		want := e.Counters[id] // unlisted counters must stay at zero
		if got != want {
			errs = append(errs, fmt.Sprintf("counter %d: expected %d, got %d", id, want, got))
		}
	}
	for _, id := range sortedKeys(e.Counters) {
		if id >= len(r.Counters) {
			errs = append(errs, fmt.Sprintf("counter %d: expected %d, but the bank has %d counters", id, e.Counters[id], len(r.Counters)))
		}
	}

	if e.Jobs != nil && *e.Jobs != r.Jobs {
		errs = append(errs, fmt.Sprintf("jobs: expected %d, got %d", *e.Jobs, r.Jobs))
	}
	if e.Barriers != nil && *e.Barriers != r.Barriers {
		errs = append(errs, fmt.Sprintf("barriers: expected %d, got %d", *e.Barriers, r.Barriers))
	}
	if e.StatsLines > 0 && r.StatsLines < e.StatsLines {
		errs = append(errs, fmt.Sprintf("stats.txt: expected at least %d lines, got %d", e.StatsLines, r.StatsLines))
	}

	return errs
}

func sortedKeys(m map[int]int64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// readLines returns the non-empty lines of path, nil if it cannot be read.
func readLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
