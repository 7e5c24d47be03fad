package hlc

import (
	"sync"
	"time"
)

// Clock stamps records logged by one producer.
// Log time never goes backwards even if the wall clock does, and the log
// tick increases by one per record.
type Clock struct {
	wallTime int64
	tick     uint64
	mu       sync.Mutex
}

// Timestamp is the time a record was logged
type Timestamp struct {
	LogTime int64  // Unix nanoseconds, strictly increasing per clock
	LogTick uint64 // Sequence number of the record, starts at 1
}

// NewClock creates a clock. The first stamp takes the current wall time.
func NewClock() *Clock {
	return &Clock{}
}

// Now generates a new timestamp for a local record
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := time.Now().UnixNano()
	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
	} else {
		// Wall clock stalled or stepped back: stay strictly ahead of the last stamp
		c.wallTime++
	}
	c.tick++

	return Timestamp{
		LogTime: c.wallTime,
		LogTick: c.tick,
	}
}

// Tick returns the number of timestamps issued so far
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Compare compares two timestamps
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	if a.LogTime < b.LogTime {
		return -1
	}
	if a.LogTime > b.LogTime {
		return 1
	}

	if a.LogTick < b.LogTick {
		return -1
	}
	if a.LogTick > b.LogTick {
		return 1
	}

	return 0
}

// PhysicalTime returns the log time as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.LogTime)
}

// String returns a human-readable representation
func (t Timestamp) String() string {
	return t.PhysicalTime().Format(time.RFC3339Nano)
}
