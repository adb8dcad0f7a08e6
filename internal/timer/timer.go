// Package timer implements the interval timers used to drive retransmission
// and aging throughout the OSPF engine: a fixed interval that can be
// started, stopped, and polled for expiry without blocking the caller.
package timer

import (
	"errors"
	"time"
)

// ErrNotActive is returned by IsExpired and Elapsed when called on a Timer
// that is not currently running.
var ErrNotActive = errors.New("timer: timer is not active")

// A Timer tracks a single fixed interval, started and stopped explicitly by
// its owner and polled for expiry on each iteration of an event loop, rather
// than delivering callbacks or channel sends on its own goroutine.
type Timer struct {
	interval time.Duration
	start    time.Time
	active   bool
}

// New creates a Timer with the given interval. The Timer is not active until
// Start or StartImmediate is called.
func New(interval time.Duration) *Timer {
	return &Timer{interval: interval}
}

// Start (re)starts the Timer, measuring its interval from now.
func (t *Timer) Start() {
	t.start = time.Now()
	t.active = true
}

// StartImmediate starts the Timer already expired, so the next IsExpired
// call returns true regardless of the configured interval. Used to force an
// immediate first action on entry to a state that otherwise waits a full
// interval before acting.
func (t *Timer) StartImmediate() {
	t.start = time.Now().Add(-t.interval)
	t.active = true
}

// Stop deactivates the Timer. IsUp returns false until Start or
// StartImmediate is called again.
func (t *Timer) Stop() {
	t.active = false
}

// IsUp reports whether the Timer is currently active.
func (t *Timer) IsUp() bool {
	return t.active
}

// IsExpired reports whether the Timer's interval has elapsed since it was
// last started. It returns ErrNotActive if the Timer is not active; callers
// must check IsUp first if they are not certain the Timer was started.
func (t *Timer) IsExpired() (bool, error) {
	if !t.active {
		return false, ErrNotActive
	}
	return time.Since(t.start) >= t.interval, nil
}

// Elapsed returns the time elapsed since the Timer was last started. It
// returns ErrNotActive if the Timer is not active.
func (t *Timer) Elapsed() (time.Duration, error) {
	if !t.active {
		return 0, ErrNotActive
	}
	return time.Since(t.start), nil
}

// Interval returns the Timer's configured interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// SetInterval updates the Timer's configured interval without affecting
// whether it is currently active or when it was last started.
func (t *Timer) SetInterval(interval time.Duration) {
	t.interval = interval
}
