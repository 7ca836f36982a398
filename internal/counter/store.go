// Package counter implements the bank of shared integer counters.
//
// Every counter slot carries its own mutex, so operations on different
// counters never contend. A lock is held for exactly one mutation and is
// never held across any other operation, which keeps the bank free of
// lock-ordering hazards no matter how workers interleave.
package counter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// MaxCounters is the largest bank the command line accepts.
const MaxCounters = 100

// ErrOutOfRange is returned for counter ids outside [0, Len()).
var ErrOutOfRange = errors.New("counter id out of range")

type slot struct {
	mu    sync.Mutex
	value int64
}

// Store is a fixed-size bank of independently locked counters.
// All values start at zero.
type Store struct {
	slots []slot
}

// New creates a bank of n zeroed counters.
func New(n int) (*Store, error) {
	if n < 0 {
		return nil, fmt.Errorf("counter bank size must be >= 0, got %d", n)
	}
	return &Store{slots: make([]slot, n)}, nil
}

// Len returns the number of counters in the bank.
func (s *Store) Len() int {
	return len(s.slots)
}

// Increment adds one to counter id.
func (s *Store) Increment(id int) error {
	return s.Add(id, 1)
}

// Decrement subtracts one from counter id.
func (s *Store) Decrement(id int) error {
	return s.Add(id, -1)
}

// Add applies delta to counter id under that counter's lock.
func (s *Store) Add(id int, delta int64) error {
	if id < 0 || id >= len(s.slots) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, id, len(s.slots))
	}
	sl := &s.slots[id]
	sl.mu.Lock()
	sl.value += delta
	sl.mu.Unlock()
	return nil
}

// Value returns the current value of counter id.
func (s *Store) Value(id int) (int64, error) {
	if id < 0 || id >= len(s.slots) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, id, len(s.slots))
	}
	sl := &s.slots[id]
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.value, nil
}

// Snapshot returns every counter value, locking one slot at a time.
// The result is only a consistent cut when the bank is quiescent.
func (s *Store) Snapshot() []int64 {
	out := make([]int64, len(s.slots))
	for i := range s.slots {
		sl := &s.slots[i]
		sl.mu.Lock()
		out[i] = sl.value
		sl.mu.Unlock()
	}
	return out
}

// FileName returns the artifact name for counter id ("count03.txt").
func FileName(id int) string {
	return fmt.Sprintf("count%02d.txt", id)
}

// Persist writes one file per counter into dir containing the decimal
// final value. It is called once, after the final barrier.
func (s *Store) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("persist counters: %w", err)
	}
	for id, v := range s.Snapshot() {
		path := filepath.Join(dir, FileName(id))
		data := strconv.AppendInt(nil, v, 10)
		data = append(data, '\n')
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("persist counter %d: %w", id, err)
		}
	}
	return nil
}

// ReadFile reads a persisted counter value back from dir.
func ReadFile(dir string, id int) (int64, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName(id)))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(trimNewline(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", FileName(id), err)
	}
	return v, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
