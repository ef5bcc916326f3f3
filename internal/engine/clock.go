package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps every task the Run loop
// processes. Wall time stamps crossing events; seq orders what the loop did.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// However, the Coordinator's single-writer design means only the Run loop
// calls Next().
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

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
