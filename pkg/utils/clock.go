package utils

import "time"

// Clock abstracts the time source so components can be tested with a
// controlled clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewClock returns the wall clock.
func NewClock() Clock {
	return realClock{}
}

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	Current time.Time
}

func (c *FakeClock) Now() time.Time { return c.Current }

// Advance moves the fake clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}
