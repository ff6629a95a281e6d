package usecase

import (
	"math/rand/v2"
	"time"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// systemClock is the wall clock.
type systemClock struct{}

// SystemClock returns a domain.Clock backed by the time package.
func SystemClock() domain.Clock { return systemClock{} }

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// JitterFunc returns a signed offset added to the inter-tick delay.
type JitterFunc func() time.Duration

// UniformJitter returns offsets uniformly distributed in [-spread, +spread].
func UniformJitter(spread time.Duration) JitterFunc {
	return func() time.Duration {
		if spread <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(2*spread)+1)) - spread
	}
}

// wait blocks for d on clock, returning early with false if stop closes first.
func wait(clock domain.Clock, d time.Duration, stop <-chan struct{}) bool {
	select {
	case <-clock.After(d):
		return true
	case <-stop:
		return false
	}
}

// percentOf returns n/total as a 0-100 integer percentage, rounded and capped.
func percentOf(n, total int) int {
	if total <= 0 {
		return 0
	}
	p := (n*100 + total/2) / total
	if p > 100 {
		return 100
	}
	return p
}
