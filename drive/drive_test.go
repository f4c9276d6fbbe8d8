package drive_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/kozdaq/clock"
	"github.com/nasa-jpl/kozdaq/curve"
	"github.com/nasa-jpl/kozdaq/drive"
	"github.com/nasa-jpl/kozdaq/telemetry"
)

type write struct {
	channel int
	voltage float64
}

// slowDAC takes cost of fake time per write and can fail or stop the loop
// after a number of writes
type slowDAC struct {
	clk    *clock.Fake
	cost   time.Duration
	writes []write
	failAt int
	stop   *atomic.Bool
	stopAt int
}

func (d *slowDAC) WriteDAC(channel int, voltage float64) error {
	d.clk.Advance(d.cost)
	if d.failAt > 0 && len(d.writes)+1 == d.failAt {
		return errors.New("bus off")
	}
	d.writes = append(d.writes, write{channel, voltage})
	if d.stopAt > 0 && len(d.writes) == d.stopAt {
		d.stop.Store(true)
	}
	return nil
}

func newLoop(dac *slowDAC) *drive.Loop {
	return &drive.Loop{
		Path:     curve.New(curve.Spiral(curve.DefaultMaxRadius, curve.DefaultSegments)),
		DAC:      dac,
		Clock:    dac.clk,
		Channels: [2]int{0, 1},
		Period:   drive.DefaultPeriod,
		Speed:    drive.DefaultSpeed,
	}
}

func TestParameterTracksElapsedTime(t *testing.T) {
	var stop atomic.Bool
	clk := clock.NewFake(time.Unix(0, 0))
	dac := &slowDAC{clk: clk, cost: time.Millisecond, stop: &stop, stopAt: 40}
	l := newLoop(dac)

	snap, err := l.Run(&stop)
	require.NoError(t, err)
	assert.Equal(t, int64(20), snap.Steps)
	assert.InDelta(t, 0.2, snap.Elapsed, 1e-9)
	assert.InDelta(t, drive.DefaultSpeed*snap.Elapsed, snap.Parameter, 1e-9)
	assert.Equal(t, 20*8*time.Millisecond, clk.Slept())
	assert.Equal(t, int64(0), snap.Overruns)
	assert.Equal(t, snap, l.Snapshot())

	for i, w := range dac.writes {
		assert.Equal(t, i%2, w.channel)
	}
}

func TestSinglePeriodEndsPastOne(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	dac := &slowDAC{clk: clk}
	l := newLoop(dac)
	l.SinglePeriod = true

	var stop atomic.Bool
	snap, err := l.Run(&stop)
	require.NoError(t, err)
	assert.Equal(t, drive.ExpectedSteps(drive.DefaultSpeed, drive.DefaultPeriod), snap.Steps)
	assert.Equal(t, int64(4), snap.Steps)
	assert.Greater(t, snap.Parameter, 1.)
}

func TestOverrunsAreCountedWithoutSleeping(t *testing.T) {
	var stop atomic.Bool
	clk := clock.NewFake(time.Unix(0, 0))
	dac := &slowDAC{clk: clk, cost: 6 * time.Millisecond, stop: &stop, stopAt: 10}
	l := newLoop(dac)
	l.Metrics = telemetry.NewDrive()

	snap, err := l.Run(&stop)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Overruns)
	assert.Equal(t, time.Duration(0), clk.Slept())
	assert.InDelta(t, 0.06, snap.Elapsed, 1e-9)
}

func TestWriteFailureEndsLoop(t *testing.T) {
	var stop atomic.Bool
	clk := clock.NewFake(time.Unix(0, 0))
	dac := &slowDAC{clk: clk, failAt: 6}
	l := newLoop(dac)

	snap, err := l.Run(&stop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dac write channel 1")
	assert.Equal(t, int64(2), snap.Steps)
}

func TestStopBeforeStartWritesNothing(t *testing.T) {
	var stop atomic.Bool
	stop.Store(true)
	clk := clock.NewFake(time.Unix(0, 0))
	dac := &slowDAC{clk: clk}
	snap, err := newLoop(dac).Run(&stop)
	require.NoError(t, err)
	assert.Zero(t, snap.Steps)
	assert.Empty(t, dac.writes)
}

func TestRunRejectsMissingDAC(t *testing.T) {
	var stop atomic.Bool
	_, err := (&drive.Loop{Period: time.Millisecond}).Run(&stop)
	assert.ErrorIs(t, err, drive.ErrConfig)
}

func TestTraceLines(t *testing.T) {
	var (
		stop atomic.Bool
		buf  bytes.Buffer
	)
	clk := clock.NewFake(time.Unix(0, 0))
	dac := &slowDAC{clk: clk, cost: time.Millisecond, stop: &stop, stopAt: 4}
	l := newLoop(dac)
	l.Trace = &buf

	_, err := l.Run(&stop)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "0.000000 \t0.000000 \t0.001000 ", lines[0])
	assert.Equal(t, "0.000000 \t0.000000 \t0.002000 ", lines[1])

	// second iteration: x and the previous y, then x and y
	x, y := curve.Spiral(curve.DefaultMaxRadius, curve.DefaultSegments)(drive.DefaultSpeed * 0.01)
	assert.Equal(t, fmt.Sprintf("%f \t%f \t%f ", x, 0., 0.011), lines[2])
	assert.Equal(t, fmt.Sprintf("%f \t%f \t%f ", x, y, 0.012), lines[3])
}
