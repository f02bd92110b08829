package util //nolint:revive // package name util hosts small shared helpers

import (
	"sync"
	"time"
)

// Clock provides the current time and can be replaced in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using real system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock implements Clock with a manually advanced time for testing.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a new FixedClock set to t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the fixed time.
func (f *FixedClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set updates the fixed time.
func (f *FixedClock) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// Advance moves the fixed time forward by d.
func (f *FixedClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// OrSystem returns c, or SystemClock when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}
