// Package kozsim simulates KOZ modules on an in-process CAN bus.
//
// The simulator answers every address.  It replies to status requests,
// streams ADC samples at the requested period and acknowledges DAC writes,
// remembering the last value written to each channel.
package kozsim

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nasa-jpl/kozdaq/can"
	"github.com/nasa-jpl/kozdaq/koz"
	"github.com/nasa-jpl/kozdaq/util"
)

// idle is how long Run waits on the bus when no stream is due
const idle = 5 * time.Millisecond

// Signal is the voltage present on an ADC channel at time t since the stream
// started
type Signal func(channel int, t time.Duration) float64

// Sine is the default Signal, a 1 Hz sine offset by a tenth of a volt per
// channel
func Sine(channel int, t time.Duration) float64 {
	return math.Sin(2*math.Pi*t.Seconds()) + 0.1*float64(channel)
}

type stream struct {
	prop  koz.ADCReadMProp
	start time.Time
	next  time.Time
	ticks uint16
}

// Simulator is a set of simulated KOZ modules
type Simulator struct {
	// Status is sent in reply to status requests
	Status koz.Status

	// Signal generates ADC samples
	Signal Signal

	// RejectDAC makes DAC writes answer with an error frame
	RejectDAC atomic.Bool

	// Mute drops every request without reply
	Mute atomic.Bool

	bus     can.Bus
	log     *zap.Logger
	mu      sync.Mutex
	dac     map[uint16]float64
	writes  int64
	streams map[uint8]*stream
}

// New returns a simulator answering on bus
func New(bus can.Bus, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		Status:  koz.Status{Firmware: 3, ADCChannels: 16, DACChannels: 4},
		Signal:  Sine,
		bus:     bus,
		log:     log,
		dac:     make(map[uint16]float64),
		streams: make(map[uint8]*stream),
	}
}

// Pair returns the host end of a loopback bus and a simulator on the other
func Pair(log *zap.Logger) (can.Bus, *Simulator) {
	host, dev := can.Pipe()
	return host, New(dev, log)
}

// DAC returns the last voltage written to a channel of the device at addr
func (s *Simulator) DAC(addr uint8, channel int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.dac[uint16(addr)<<8|uint16(channel)]
	return v, ok
}

// Writes returns the number of DAC writes acknowledged
func (s *Simulator) Writes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Streaming reports whether the device at addr is sampling
func (s *Simulator) Streaming(addr uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[addr]
	return ok
}

// Run serves requests until ctx is done or the bus is closed
func (s *Simulator) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		f, err := s.bus.Receive(s.wait(time.Now()))
		switch {
		case errors.Is(err, can.ErrTimeout):
		case errors.Is(err, can.ErrClosed):
			return nil
		case err != nil:
			return err
		default:
			if err := s.handle(f); err != nil {
				return s.closed(err)
			}
		}
		if err := s.emit(time.Now()); err != nil {
			return s.closed(err)
		}
	}
	return nil
}

func (s *Simulator) closed(err error) error {
	if errors.Is(err, can.ErrClosed) {
		return nil
	}
	return err
}

// wait returns the time until the earliest stream is due
func (s *Simulator) wait(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := idle
	for _, st := range s.streams {
		if d := st.next.Sub(now); d < w {
			w = d
		}
	}
	if w < time.Microsecond {
		w = time.Microsecond
	}
	return w
}

func (s *Simulator) handle(f can.Frame) error {
	if f.Extended || f.RTR || s.Mute.Load() {
		return nil
	}
	addr, fn := koz.SplitID(f.ID)
	switch fn {
	case koz.FnStatus:
		return s.bus.Send(koz.EncodeStatusReply(addr, s.Status))
	case koz.FnADCReadMulti:
		prop, err := koz.DecodeADCReadMulti(f)
		if err != nil {
			return s.bus.Send(koz.EncodeError(addr, 0x01, fn))
		}
		now := time.Now()
		s.mu.Lock()
		s.streams[addr] = &stream{prop: prop, start: now, next: now}
		s.mu.Unlock()
		s.log.Debug("[kozsim] stream started", zap.Uint8("address", addr))
	case koz.FnADCReadSingle:
		if f.Len < 1 {
			return s.bus.Send(koz.EncodeError(addr, 0x01, fn))
		}
		ch := int(f.Data[0])
		return s.bus.Send(koz.EncodeADCResult(addr, koz.ADCResult{Channel: ch, Voltage: s.sample(ch, 0)}))
	case koz.FnADCStop:
		s.mu.Lock()
		delete(s.streams, addr)
		s.mu.Unlock()
		s.log.Debug("[kozsim] stream stopped", zap.Uint8("address", addr))
	case koz.FnDACWrite:
		w, err := koz.DecodeDACWrite(f)
		if err != nil || s.RejectDAC.Load() || w.Channel >= s.Status.DACChannels {
			return s.bus.Send(koz.EncodeError(addr, 0x02, fn))
		}
		v := w.Voltage
		if w.UseCode {
			v = koz.MinVoltage + float64(w.Code)/math.MaxUint16*(koz.MaxVoltage-koz.MinVoltage)
		}
		s.mu.Lock()
		s.dac[uint16(addr)<<8|uint16(w.Channel)] = v
		s.writes++
		s.mu.Unlock()
		return s.bus.Send(koz.EncodeDACAck(addr, 0, w.Channel))
	}
	return nil
}

// emit sends one sweep of every stream that is due
func (s *Simulator) emit(now time.Time) error {
	var out []can.Frame
	s.mu.Lock()
	for addr, st := range s.streams {
		if now.Before(st.next) {
			continue
		}
		t := now.Sub(st.start)
		for ch := int(st.prop.ChannelBegin); ch <= int(st.prop.ChannelEnd); ch++ {
			out = append(out, koz.EncodeADCResult(addr, koz.ADCResult{
				Channel: ch,
				Voltage: s.sample(ch, t),
				Ticks:   st.ticks,
			}))
		}
		st.ticks++
		st.next = st.next.Add(st.prop.Period.Duration())
		if st.next.Before(now) {
			// fell behind, skip missed sweeps
			st.next = now.Add(st.prop.Period.Duration())
		}
	}
	s.mu.Unlock()
	for _, f := range out {
		if err := s.bus.Send(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) sample(ch int, t time.Duration) float64 {
	return util.Clamp(s.Signal(ch, t), koz.MinVoltage, koz.MaxVoltage)
}
