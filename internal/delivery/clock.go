package delivery

import "time"

// Clock abstracts wall time so the scheduler loops are testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the default wall clock.
var SystemClock Clock = realClock{}
