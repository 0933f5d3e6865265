// Package clock abstracts the time operations the harvest scheduler needs so
// tests can drive timers deterministically.
package clock

import "time"

// Clock is the subset of the time package used by the pipeline.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f after d elapses. The returned Timer can cancel the
	// pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was cancelled before it fired.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
