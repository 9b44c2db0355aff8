package session

import "time"

// Clock abstracts the session's time source so tests can drive timers
// deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending call that can be canceled.
type Timer interface {
	// Stop cancels the call. It reports whether the cancellation happened
	// before the timer fired.
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return realClock{} }
