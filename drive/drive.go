// Package drive writes a parametric path to a pair of DAC channels at a fixed
// cadence.
//
// Each iteration writes the current point, sleeps out the remainder of the
// period and advances the path by Speed times the measured iteration time, so
// the traversal rate tracks real time even when an iteration overruns.
package drive

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/kozdaq/clock"
	"github.com/nasa-jpl/kozdaq/curve"
	"github.com/nasa-jpl/kozdaq/telemetry"
)

const (
	// DefaultSpeed is the path parameter rate, per second
	DefaultSpeed = 32.4234734626354141

	// DefaultPeriod is the loop period
	DefaultPeriod = 10 * time.Millisecond
)

// ErrConfig is generated when a Loop is missing a collaborator or has a
// non-positive period
var ErrConfig = errors.New("drive: loop misconfigured")

// DAC is an analog output
type DAC interface {
	WriteDAC(channel int, voltage float64) error
}

// Snapshot is the loop state after an iteration
type Snapshot struct {
	Steps     int64   `json:"steps"`
	Elapsed   float64 `json:"elapsed"`
	Parameter float64 `json:"parameter"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Overruns  int64   `json:"overruns"`
}

// Loop drives Path onto DAC channels Channels[0] (x) and Channels[1] (y)
type Loop struct {
	Path     *curve.Generator
	DAC      DAC
	Clock    clock.Clock
	Channels [2]int
	Period   time.Duration
	Speed    float64

	// SinglePeriod ends the loop once the parameter passes 1
	SinglePeriod bool

	// Trace, if not nil, receives "x \ty \tt" after every DAC write
	Trace io.Writer

	Log     *zap.Logger
	Metrics *telemetry.Drive

	mu   sync.Mutex
	snap Snapshot
}

// Snapshot returns the state after the latest iteration.
// It is safe to call while Run executes.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

func (l *Loop) publish(s Snapshot) {
	l.mu.Lock()
	l.snap = s
	l.mu.Unlock()
}

func (l *Loop) write(channel int, v float64) error {
	if err := l.DAC.WriteDAC(channel, v); err != nil {
		if l.Metrics != nil {
			l.Metrics.WriteErrors.Inc()
		}
		return fmt.Errorf("dac write channel %d: %w", channel, err)
	}
	return nil
}

func (l *Loop) trace(x, y, t float64) {
	if l.Trace != nil {
		fmt.Fprintf(l.Trace, "%f \t%f \t%f \n", x, y, t)
	}
}

// Run iterates until stop is set or, with SinglePeriod, the parameter
// exceeds 1.  A failed DAC write ends the loop with the error.  The returned
// Snapshot is the state after the last completed iteration.
func (l *Loop) Run(stop *atomic.Bool) (Snapshot, error) {
	if l.Path == nil || l.DAC == nil || l.Period <= 0 {
		return Snapshot{}, ErrConfig
	}
	clk := l.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	warn := rate.NewLimiter(rate.Every(time.Second), 1)

	var (
		snap Snapshot
		t    float64
		oldY = l.Path.Y()
		last = clk.Now()
	)
	log.Info("[drive] starting",
		zap.Ints("channels", l.Channels[:]),
		zap.Duration("period", l.Period),
		zap.Float64("speed", l.Speed),
		zap.Bool("singlePeriod", l.SinglePeriod))
	for !stop.Load() {
		x, y := l.Path.X(), l.Path.Y()
		if err := l.write(l.Channels[0], x); err != nil {
			return snap, err
		}
		l.trace(x, oldY, t+clk.Now().Sub(last).Seconds())
		if err := l.write(l.Channels[1], y); err != nil {
			return snap, err
		}
		l.trace(x, y, t+clk.Now().Sub(last).Seconds())

		elapsed := clk.Now().Sub(last)
		if elapsed < l.Period {
			clk.Sleep(l.Period - elapsed)
		} else if elapsed > l.Period {
			snap.Overruns++
			if l.Metrics != nil {
				l.Metrics.Overruns.Inc()
			}
			if warn.Allow() {
				log.Warn("[drive] iteration overran period",
					zap.Duration("elapsed", elapsed),
					zap.Int64("overruns", snap.Overruns))
			}
		}

		now := clk.Now()
		dt := now.Sub(last).Seconds()
		last = now
		oldY = y

		l.Path.Step(l.Speed * dt)
		t += dt

		snap.Steps++
		snap.Elapsed = t
		snap.Parameter = l.Path.Parameter()
		snap.X, snap.Y = l.Path.X(), l.Path.Y()
		l.publish(snap)
		if l.Metrics != nil {
			l.Metrics.Iterations.Inc()
			l.Metrics.Period.Observe(dt)
			l.Metrics.Parameter.Set(snap.Parameter)
		}
		if l.SinglePeriod && l.Path.Parameter() > 1 {
			break
		}
	}
	log.Info("[drive] stopped",
		zap.Int64("steps", snap.Steps),
		zap.Float64("elapsed", snap.Elapsed),
		zap.Int64("overruns", snap.Overruns))
	return snap, nil
}

// ExpectedSteps estimates the iterations for one unit of parameter at the
// nominal period
func ExpectedSteps(speed float64, period time.Duration) int64 {
	if speed <= 0 || period <= 0 {
		return 0
	}
	return int64(math.Floor(1/(speed*period.Seconds()))) + 1
}
