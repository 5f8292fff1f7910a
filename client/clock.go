package client

import (
	"sync"
	"time"
)

// Clock measures operation time (injectable for testing).
type Clock interface {
	Now() time.Time
}

// realClock reads the system time.
type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// stepClock advances by a fixed step on every read (tests only).
type stepClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

func newStepClock(start time.Time, step time.Duration) *stepClock {
	return &stepClock{current: start, step: step}
}
