package types

import "time"

// Timer is a scheduled callback that can be cancelled before it fires.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer already fired or
	// was already stopped.
	Stop() bool
}

// Clock abstracts time so timers and deadlines can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}
