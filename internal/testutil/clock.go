package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed instant DeterministicClock starts at.
var Epoch = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

// DeterministicClock provides a thread-safe, manually advanced wall clock
// for tests.
//
// Each call to Now() returns the current instant and then moves the clock
// forward by one second, so consecutive writes get distinct, increasing
// LastUpdated stamps. Reset returns the clock to Epoch for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewDeterministicClock creates a clock starting at Epoch.
//
// The first call to Now() returns Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch}
}

// Now returns the current instant and advances the clock by one second.
//
// Monotonic: never returns the same instant twice.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

// Current returns the instant the next Now() call will return, without
// advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset returns the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
