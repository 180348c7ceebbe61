// Package system provides the wall clock used by the scheduler and coordinator.
package system

import "time"

// Clock reads UTC wall time and waits on real timers.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// After fires once d has elapsed.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
