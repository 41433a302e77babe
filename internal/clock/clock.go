// Package clock provides the wall clock and a manual clock for tests.
package clock

import (
	"time"

	"github.com/arloliu/rota/types"
)

// Real implements types.Clock using the standard library.
type Real struct{}

var _ types.Clock = Real{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc mirrors time.AfterFunc while satisfying types.Clock.
func (Real) AfterFunc(d time.Duration, f func()) types.Timer {
	return time.AfterFunc(d, f)
}
