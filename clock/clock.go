// Package clock provides the monotonic time source used by the sampling and
// drive loops.
//
// Production code uses Real, which wraps package time.  Tests use a Fake,
// which only moves when told to (or when something sleeps on it).
package clock

import (
	"sync"
	"time"
)

// Clock reads a monotonic time and can suspend the caller
type Clock interface {
	// Now returns the current time.  Differences between two values returned
	// by Now are monotonic.
	Now() time.Time

	// Sleep pauses the caller for at least d.  d <= 0 returns immediately.
	Sleep(d time.Duration)
}

type system struct{}

func (system) Now() time.Time { return time.Now() }

func (system) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// Real returns a Clock backed by the runtime monotonic clock
func Real() Clock {
	return system{}
}

// Fake is a manually advanced Clock.  Sleep advances it by the requested
// duration instead of blocking.  It is concurrent safe.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

// NewFake returns a Fake reading start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the fake time by d
func (f *Fake) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.slept += d
}

// Advance moves the fake time forward by d without counting it as sleep
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Slept returns the total duration passed to Sleep
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}
