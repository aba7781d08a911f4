package mvstore

import (
	"sync"
	"time"
)

// clock hands out strictly increasing logical timestamps in 100ns units.
// Foreign timestamps are observed so that local stamps stay ahead of
// everything the store has seen.
//
// Thread-safety: all methods are safe for concurrent use.
type clock struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

func newClock(now func() time.Time) *clock {
	return &clock{now: now}
}

// Next returns max(now, last+1)
func (c *clock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := uint64(c.now().UnixNano() / 100)
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Observe moves the clock past ts
func (c *clock) Observe(ts uint64) {
	c.mu.Lock()
	if ts > c.last {
		c.last = ts
	}
	c.mu.Unlock()
}

// Last returns the most recent timestamp
func (c *clock) Last() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
