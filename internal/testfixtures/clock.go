package testfixtures

import (
	"sync"
	"time"
)

// Clock is a settable time source. Desk scenarios usually move it between
// wall-clock times on office days, so it offers helpers for that.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock starts at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc returns Now for injection; a nil clock falls back to time.Now.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// At returns hour:minute on the clock's current day without moving it.
func (c *Clock) At(hour, minute int) time.Time {
	now := c.Now()
	y, m, d := now.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, now.Location())
}

// NextWorkday moves the clock to hour:minute on the next Monday to Friday
// after the current day and returns that time.
func (c *Clock) NextWorkday(hour, minute int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	y, m, d := c.current.Date()
	next := time.Date(y, m, d+1, hour, minute, 0, 0, c.current.Location())
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	c.current = next
	return next
}
