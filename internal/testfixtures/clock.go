package testfixtures

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a manually advanced time source seeded at ReferenceTime. Its Now
// method is injected wherever services take a now func.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock reading ReferenceTime.
func NewClock() *Clock {
	return &Clock{current: referenceTime}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// PassRetention moves the clock one second beyond a retention window of
// days, so that anything stamped at the previous reading has expired.
func (c *Clock) PassRetention(days int) time.Time {
	return c.Advance(time.Duration(days)*24*time.Hour + time.Second)
}

// Sequence returns an id generator yielding "<prefix>-1", "<prefix>-2", ...
// Safe for concurrent scans.
func Sequence(prefix string) func() string {
	var counter atomic.Uint64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, counter.Add(1))
	}
}
