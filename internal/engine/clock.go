package engine

import "sync/atomic"

// Clock is the monotonic submission counter.
//
// Every queued job is stamped with Clock.Next() by the dispatcher, so the
// sequence numbers record file order independently of wall time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
