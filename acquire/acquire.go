// Package acquire samples ADC channels into a fixed size buffer.
//
// Each sample is stamped with the logical time of the previous sample: the
// accumulated monotonic time between callbacks, starting at zero for the first
// one.  Acquisition ends when the buffer fills or the stop flag is set by
// someone else, whichever happens first.
package acquire

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nasa-jpl/kozdaq/clock"
	"github.com/nasa-jpl/kozdaq/koz"
	"github.com/nasa-jpl/kozdaq/rtprio"
)

// Sample is one hardware reading
type Sample struct {
	Channel int
	Value   float64
}

// Step stamps s with the tracker's logical time, stores it and reports
// whether the buffer became full
func Step(tt *TimeTracker, buf *Buffer, s Sample, now time.Time) bool {
	stamp := tt.Observe(now)
	return buf.Append(s.Channel, s.Value, stamp)
}

// Acquisition is the state shared by the sample handler
type Acquisition struct {
	Tracker TimeTracker
	Buffer  *Buffer

	clock    clock.Clock
	stop     *atomic.Bool
	progress atomic.Int64
}

// New allocates an acquisition of capacity samples that sets stop when full
func New(capacity int, clk clock.Clock, stop *atomic.Bool) (*Acquisition, error) {
	buf, err := NewBuffer(capacity)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Acquisition{Buffer: buf, clock: clk, stop: stop}, nil
}

// Handle processes one sample.  It does not validate the channel and panics
// if called again after it set the stop flag on a full buffer.
func (a *Acquisition) Handle(r koz.ADCResult) {
	full := Step(&a.Tracker, a.Buffer, Sample{Channel: r.Channel, Value: r.Voltage}, a.clock.Now())
	a.progress.Store(int64(a.Buffer.Len()))
	if full {
		a.stop.Store(true)
	}
}

// Progress returns the number of samples stored.  It is safe to call from
// any goroutine.
func (a *Acquisition) Progress() int64 {
	return a.progress.Load()
}

// Device is the part of a KOZ device used for acquisition
type Device interface {
	ReadADCMulti(koz.ADCReadMProp, koz.ADCHandler) error
	Listen(stop *atomic.Bool) error
	StopADC() error
}

// Options configures Run
type Options struct {
	Prop     koz.ADCReadMProp
	Realtime bool
	Priority int
}

// Run starts sampling on dev and listens until a's stop flag is set, then
// stops the device.  Listening happens at FIFO priority when opts.Realtime.
func (a *Acquisition) Run(dev Device, opts Options, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	return rtprio.Scope(opts.Realtime, opts.Priority, log, func() error {
		if err := dev.ReadADCMulti(opts.Prop, a.Handle); err != nil {
			return err
		}
		log.Info("[acquire] sampling",
			zap.Uint8("begin", opts.Prop.ChannelBegin),
			zap.Uint8("end", opts.Prop.ChannelEnd),
			zap.Stringer("period", opts.Prop.Period),
			zap.Int("capacity", a.Buffer.Cap()))
		lerr := dev.Listen(a.stop)
		serr := dev.StopADC()
		log.Info("[acquire] stopped", zap.Int("samples", a.Buffer.Len()), zap.Float64("elapsed", a.Tracker.Accumulated()))
		if lerr != nil {
			return lerr
		}
		return serr
	})
}
