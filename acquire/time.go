package acquire

import "time"

// TimeTracker converts monotonic clock readings into an accumulated logical
// timestamp.  The first observation contributes no time; each later one adds
// the delta since the previous reading.
type TimeTracker struct {
	accumulated float64
	last        time.Time
	initialized bool
	count       int64
}

// Observe records a clock reading and returns the accumulated time in seconds
// as it stood before this reading was added, which is the stamp for the
// sample that triggered it.  A reading earlier than the previous one adds
// nothing.
func (t *TimeTracker) Observe(now time.Time) float64 {
	var delta time.Duration
	if t.initialized {
		delta = now.Sub(t.last)
		if delta < 0 {
			delta = 0
		}
	}
	t.initialized = true
	t.last = now
	t.count++

	stamp := t.accumulated
	t.accumulated += 1e-9 * float64(delta.Nanoseconds())
	return stamp
}

// Accumulated returns the logical elapsed seconds including the latest delta
func (t *TimeTracker) Accumulated() float64 {
	return t.accumulated
}

// Count returns the number of observations
func (t *TimeTracker) Count() int64 {
	return t.count
}
