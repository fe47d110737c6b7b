package gateway

import "sync/atomic"

// Clock hands out the strictly increasing sequence numbers that order the
// delta stream. Only the authority loop calls Next; Current may be read
// from anywhere.
type Clock struct {
	seq atomic.Int64
}

// NewClock starts a clock at 0. The first delta is sequence 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes a clock after start, e.g. when continuing a journal.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
