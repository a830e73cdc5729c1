package testutil

import (
	"sync"
	"time"
)

// StepClock is a thread-safe fake time source for tests.
//
// Each call to Now advances the clock by a fixed step, so durations measured
// between two calls are exact and reproducible.
type StepClock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	calls int
}

// NewStepClock creates a clock that starts at start and advances by step on
// every call to Now. The first call to Now returns start+step.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, step: step}
}

// Now advances the clock and returns the new time.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	c.calls++
	return c.now
}

// Calls returns how many times Now was called.
func (c *StepClock) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
