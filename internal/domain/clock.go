package domain

import "time"

// Clock provides the current time. Production code uses RealClock; tests
// inject domaintest.FakeClock. The method set also satisfies backoff.Clock.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// FromMillis converts epoch milliseconds to time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ Clock = RealClock{}
