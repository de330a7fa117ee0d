// Package clock provides the deadline clock shared by the broker and the
// slot manager. It is a thin alias over clockwork so components can be
// driven by a fake clock in tests.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the monotonic time source injected into components.
type Clock = clockwork.Clock

// New returns the real wall clock.
func New() Clock { return clockwork.NewRealClock() }

// Deadline returns the absolute instant d from now on c.
func Deadline(c Clock, d time.Duration) time.Time {
	return c.Now().Add(d)
}

// Expired reports whether the deadline t has passed on c.
func Expired(c Clock, t time.Time) bool {
	return !c.Now().Before(t)
}
