// Package koz provides an interface to KOZ analog I/O modules on a CAN bus
//
// A module has a 7-bit address and a set of ADC and DAC channels.  Frame
// identifiers are 11 bits; the address occupies bits 4-10 and the Function bits
// 0-3, so requests to and replies from a device share an address.  Payloads are
// little endian and voltages travel as float32.
//
// Basic usage is as followed:
//
//	node := koz.NewNode(bus, "can0", logger)
//	defer node.Close()
//	dev, err := koz.Setup(node, 0x0f, koz.DefaultTimeout)
//	if err != nil {
//		log.Fatal(err)
//	}
//	// continuous sampling, samples are delivered to the handler from Listen
//	stop := new(atomic.Bool)
//	dev.ReadADCMulti(koz.ADCReadMProp{ChannelBegin: 4, ChannelEnd: 9, Mode: 0x30, Period: koz.ReadTime1ms}, handler)
//	dev.Listen(stop) // blocks until stop is set
//	dev.StopADC()
//
//	// output
//	dev.WriteDAC(0, 1.5) // volts, acknowledged by the device
package koz

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nasa-jpl/kozdaq/can"
)

const (
	// DefaultTimeout is how long a request waits for its reply
	DefaultTimeout = 100 * time.Millisecond

	// PollInterval bounds how long Listen waits on an idle bus before it
	// checks the stop flag again
	PollInterval = 20 * time.Millisecond

	// MinVoltage is the lowest DAC output
	MinVoltage = -10.

	// MaxVoltage is the highest DAC output
	MaxVoltage = 10.
)

var (
	// ErrTimeout is generated when the device does not reply in time
	ErrTimeout = errors.New("koz: no reply from device")

	// ErrDevice is generated when the device rejects a request
	ErrDevice = errors.New("koz: device reported an error")

	// ErrVoltageTooLow is generated when a too low voltage is commanded
	ErrVoltageTooLow = errors.New("commanded voltage below lower limit")

	// ErrVoltageTooHigh is generated when a too high voltage is commanded
	ErrVoltageTooHigh = errors.New("commanded voltage above upper limit")
)

// ConnectionError is generated when a node cannot be opened
type ConnectionError struct {
	Interface string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("koz: opening node on %s: %v", e.Interface, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ConfigError is generated when a device cannot be set up
type ConfigError struct {
	Address uint8
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("koz: setting up device %#02x: %v", e.Address, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ADCHandler receives samples.  It is called synchronously from Listen (or a
// DAC write waiting on its ack) and must not block.
type ADCHandler func(ADCResult)

// Node is an open CAN bus shared by the devices on it
type Node struct {
	bus  can.Bus
	name string
	log  *zap.Logger
}

// NewNode wraps a bus.  log may be nil.
func NewNode(bus can.Bus, name string, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{bus: bus, name: name, log: log}
}

// Name returns the interface name the node was opened on
func (n *Node) Name() string {
	return n.name
}

// Close releases the bus
func (n *Node) Close() error {
	n.log.Debug("[koz] closing node", zap.String("interface", n.name))
	return n.bus.Close()
}

// Device is one KOZ module on a node
type Device struct {
	node    *Node
	addr    uint8
	timeout time.Duration
	status  Status
	onADC   ADCHandler
	dropped int64
	log     *zap.Logger
}

// Setup probes the device at addr and returns a handle to it.
// timeout <= 0 uses DefaultTimeout.
func Setup(node *Node, addr uint8, timeout time.Duration) (*Device, error) {
	if addr > MaxAddress {
		return nil, &ConfigError{Address: addr, Err: fmt.Errorf("address above %#x", MaxAddress)}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Device{
		node:    node,
		addr:    addr,
		timeout: timeout,
		log:     node.log.With(zap.Uint8("address", addr)),
	}
	if err := node.bus.Send(Request(addr, FnStatus)); err != nil {
		return nil, &ConfigError{Address: addr, Err: err}
	}
	f, err := d.await(FnStatusReply)
	if err != nil {
		return nil, &ConfigError{Address: addr, Err: err}
	}
	st, err := DecodeStatusReply(f)
	if err != nil {
		return nil, &ConfigError{Address: addr, Err: err}
	}
	if st.Code != 0 {
		return nil, &ConfigError{Address: addr, Err: fmt.Errorf("%w: status %#02x", ErrDevice, st.Code)}
	}
	d.status = st
	d.log.Info("[koz] device initialized",
		zap.Uint8("firmware", st.Firmware),
		zap.Uint8("adcChannels", st.ADCChannels),
		zap.Uint8("dacChannels", st.DACChannels))
	return d, nil
}

// Address returns the device address
func (d *Device) Address() uint8 {
	return d.addr
}

// Status returns the status reported at setup
func (d *Device) Status() Status {
	return d.status
}

// Dropped returns the number of samples discarded because the device flagged
// them bad or they did not decode
func (d *Device) Dropped() int64 {
	return d.dropped
}

// ReadADCMulti starts continuous sampling of a channel range.  Samples are
// passed to h while Listen runs.
func (d *Device) ReadADCMulti(prop ADCReadMProp, h ADCHandler) error {
	if err := prop.Validate(); err != nil {
		return err
	}
	d.onADC = h
	d.log.Debug("[koz] starting multi channel read",
		zap.Uint8("begin", prop.ChannelBegin),
		zap.Uint8("end", prop.ChannelEnd),
		zap.Uint8("mode", prop.Mode),
		zap.Stringer("period", prop.Period))
	return d.node.bus.Send(EncodeADCReadMulti(d.addr, prop))
}

// ReadADCSingle requests one sample from a channel, delivered to h while
// Listen runs
func (d *Device) ReadADCSingle(channel, mode uint8, h ADCHandler) error {
	d.onADC = h
	return d.node.bus.Send(EncodeADCReadSingle(d.addr, channel, mode))
}

// StopADC stops sampling.  Samples still in flight are discarded.
func (d *Device) StopADC() error {
	d.onADC = nil
	return d.node.bus.Send(Request(d.addr, FnADCStop))
}

// Listen receives frames and dispatches samples until stop is set.
// The flag is checked after every frame and at least every PollInterval.
func (d *Device) Listen(stop *atomic.Bool) error {
	for !stop.Load() {
		f, err := d.node.bus.Receive(PollInterval)
		if err != nil {
			if errors.Is(err, can.ErrTimeout) {
				continue
			}
			return err
		}
		if f.Extended {
			continue
		}
		addr, fn := SplitID(f.ID)
		if addr != d.addr {
			continue
		}
		switch fn {
		case FnADCResult:
			d.dispatch(&f)
		case FnError:
			d.log.Warn("[koz] device error while listening", zap.Error(d.deviceError(f)))
		}
	}
	return nil
}

// WriteDAC sets a DAC channel to a voltage and waits for the acknowledgement
func (d *Device) WriteDAC(channel int, voltage float64) error {
	if voltage < MinVoltage {
		return ErrVoltageTooLow
	}
	if voltage > MaxVoltage {
		return ErrVoltageTooHigh
	}
	return d.writeDAC(DACWriteProp{Channel: uint8(channel), Voltage: voltage})
}

// WriteDACCode sets a DAC channel to a raw data number
func (d *Device) WriteDACCode(channel int, code uint16) error {
	return d.writeDAC(DACWriteProp{Channel: uint8(channel), UseCode: true, Code: code})
}

func (d *Device) writeDAC(w DACWriteProp) error {
	if err := d.node.bus.Send(EncodeDACWrite(d.addr, w)); err != nil {
		return err
	}
	f, err := d.await(FnDACAck)
	if err != nil {
		return fmt.Errorf("dac write channel %d: %w", w.Channel, err)
	}
	if f.Len < 2 || f.Data[1] != w.Channel {
		return fmt.Errorf("dac write channel %d: %w", w.Channel, ErrBadFrame)
	}
	if f.Data[0] != 0 {
		return fmt.Errorf("dac write channel %d: %w: status %#02x", w.Channel, ErrDevice, f.Data[0])
	}
	return nil
}

// await receives until a frame with Function fn arrives from this device.
// Samples seen meanwhile are dispatched, other traffic is ignored.
func (d *Device) await(fn Function) (can.Frame, error) {
	deadline := time.Now().Add(d.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return can.Frame{}, ErrTimeout
		}
		f, err := d.node.bus.Receive(remaining)
		if errors.Is(err, can.ErrTimeout) {
			return can.Frame{}, ErrTimeout
		}
		if err != nil {
			return can.Frame{}, err
		}
		addr, got := SplitID(f.ID)
		if f.Extended || addr != d.addr {
			continue
		}
		switch got {
		case fn:
			return f, nil
		case FnError:
			return f, d.deviceError(f)
		case FnADCResult:
			d.dispatch(&f)
		}
	}
}

func (d *Device) dispatch(f *can.Frame) {
	r, err := DecodeADCResult(f)
	if err != nil || r.Status != 0 || d.onADC == nil {
		d.dropped++
		return
	}
	d.onADC(r)
}

func (d *Device) deviceError(f can.Frame) error {
	if f.Len < 2 {
		return ErrDevice
	}
	return fmt.Errorf("%w: code %#02x in reply to function %#x", ErrDevice, f.Data[0], f.Data[1])
}
