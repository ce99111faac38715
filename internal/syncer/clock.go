package syncer

import (
	"sync"
	"time"
)

// LogicalClock issues strictly increasing millisecond timestamps for one
// device. It follows wall time while wall time moves forward.
type LogicalClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewLogicalClock returns a clock reading now, or time.Now when nil.
func NewLogicalClock(now func() time.Time) *LogicalClock {
	if now == nil {
		now = time.Now
	}
	return &LogicalClock{now: now}
}

// Next returns max(now in ms, last+1).
func (c *LogicalClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Observe moves the clock past a timestamp seen from a peer so the next local
// write orders after it.
func (c *LogicalClock) Observe(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.last {
		c.last = ts
	}
}
