package koz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nasa-jpl/kozdaq/can"
)

// Function is the low nibble of a KOZ frame identifier
type Function uint8

const (
	// FnStatus requests a status reply (host -> device)
	FnStatus Function = 0x0
	// FnADCReadSingle requests one sample of one channel
	FnADCReadSingle Function = 0x1
	// FnADCReadMulti starts continuous sampling of a channel range
	FnADCReadMulti Function = 0x2
	// FnADCStop stops sampling
	FnADCStop Function = 0x3
	// FnDACWrite sets a DAC output
	FnDACWrite Function = 0x4
	// FnADCResult carries one sample (device -> host)
	FnADCResult Function = 0x8
	// FnDACAck acknowledges a DAC write
	FnDACAck Function = 0x9
	// FnStatusReply answers FnStatus
	FnStatusReply Function = 0xA
	// FnError reports a rejected request
	FnError Function = 0xF

	// MaxAddress is the largest device address; addresses are 7 bits
	MaxAddress = 0x7F
)

// ReadPeriod is the ADC sampling period selector
type ReadPeriod uint8

const (
	// ReadTime100us samples every 100 microseconds
	ReadTime100us ReadPeriod = iota
	// ReadTime1ms samples every millisecond
	ReadTime1ms
	// ReadTime10ms samples every 10 milliseconds
	ReadTime10ms
	// ReadTime100ms samples every 100 milliseconds
	ReadTime100ms
)

var readPeriods = [...]time.Duration{
	ReadTime100us: 100 * time.Microsecond,
	ReadTime1ms:   time.Millisecond,
	ReadTime10ms:  10 * time.Millisecond,
	ReadTime100ms: 100 * time.Millisecond,
}

// Duration returns the sampling period
func (p ReadPeriod) Duration() time.Duration {
	if int(p) >= len(readPeriods) {
		return 0
	}
	return readPeriods[p]
}

func (p ReadPeriod) String() string {
	return p.Duration().String()
}

// ParseReadPeriod converts a duration string such as "1ms" to a ReadPeriod
func ParseReadPeriod(s string) (ReadPeriod, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	for i, v := range readPeriods {
		if v == d {
			return ReadPeriod(i), nil
		}
	}
	return 0, fmt.Errorf("read period %s is not a member of {100us, 1ms, 10ms, 100ms}", s)
}

// ErrBadFrame is generated when a frame payload does not match its function
var ErrBadFrame = errors.New("koz: malformed frame")

// FrameID builds the identifier for a function addressed to or from addr
func FrameID(addr uint8, fn Function) uint32 {
	return uint32(addr&MaxAddress)<<4 | uint32(fn&0xF)
}

// SplitID recovers the address and function from an identifier
func SplitID(id uint32) (uint8, Function) {
	return uint8(id>>4) & MaxAddress, Function(id & 0xF)
}

func frame(addr uint8, fn Function, payload ...byte) can.Frame {
	f := can.Frame{ID: FrameID(addr, fn), Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f
}

// ADCReadMProp configures a multi-channel ADC read
type ADCReadMProp struct {
	// ChannelBegin and ChannelEnd are the inclusive channel range
	ChannelBegin, ChannelEnd uint8

	// Mode is the device input mode byte, passed through unchanged
	Mode uint8

	// Period selects the sampling period
	Period ReadPeriod
}

// Validate checks the channel range and period
func (p ADCReadMProp) Validate() error {
	if p.ChannelBegin > p.ChannelEnd {
		return fmt.Errorf("adc channel range %d..%d is inverted", p.ChannelBegin, p.ChannelEnd)
	}
	if p.Period.Duration() == 0 {
		return fmt.Errorf("adc read period %d is not valid", p.Period)
	}
	return nil
}

// EncodeADCReadMulti builds the request starting a multi-channel read
func EncodeADCReadMulti(addr uint8, p ADCReadMProp) can.Frame {
	return frame(addr, FnADCReadMulti, p.ChannelBegin, p.ChannelEnd, p.Mode, uint8(p.Period))
}

// DecodeADCReadMulti parses a multi-channel read request
func DecodeADCReadMulti(f can.Frame) (ADCReadMProp, error) {
	if f.Len != 4 {
		return ADCReadMProp{}, ErrBadFrame
	}
	p := ADCReadMProp{ChannelBegin: f.Data[0], ChannelEnd: f.Data[1], Mode: f.Data[2], Period: ReadPeriod(f.Data[3])}
	return p, p.Validate()
}

// EncodeADCReadSingle builds a one-shot read request
func EncodeADCReadSingle(addr uint8, channel uint8, mode uint8) can.Frame {
	return frame(addr, FnADCReadSingle, channel, mode)
}

// ADCResult is one sample delivered by the device
type ADCResult struct {
	// Status is zero for a good conversion
	Status uint8

	// Channel is the channel number the sample came from
	Channel int

	// Voltage is the calibrated input voltage
	Voltage float64

	// Ticks is the device's free running 16-bit timestamp
	Ticks uint16
}

// EncodeADCResult builds a sample frame, as sent by a device
func EncodeADCResult(addr uint8, r ADCResult) can.Frame {
	f := frame(addr, FnADCResult, r.Status, uint8(r.Channel), 0, 0, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(f.Data[2:6], math.Float32bits(float32(r.Voltage)))
	binary.LittleEndian.PutUint16(f.Data[6:8], r.Ticks)
	return f
}

// DecodeADCResult parses a sample frame
func DecodeADCResult(f *can.Frame) (ADCResult, error) {
	if f.Len != 8 {
		return ADCResult{}, ErrBadFrame
	}
	return ADCResult{
		Status:  f.Data[0],
		Channel: int(f.Data[1]),
		Voltage: float64(math.Float32frombits(binary.LittleEndian.Uint32(f.Data[2:6]))),
		Ticks:   binary.LittleEndian.Uint16(f.Data[6:8]),
	}, nil
}

// DACWriteProp is one DAC write
type DACWriteProp struct {
	Channel uint8

	// UseCode selects Code (raw DN) instead of Voltage
	UseCode bool
	Voltage float64
	Code    uint16
}

// EncodeDACWrite builds a DAC write request
func EncodeDACWrite(addr uint8, w DACWriteProp) can.Frame {
	f := frame(addr, FnDACWrite, w.Channel, 0, 0, 0, 0, 0)
	if w.UseCode {
		f.Data[1] = 1
		binary.LittleEndian.PutUint16(f.Data[2:4], w.Code)
	} else {
		binary.LittleEndian.PutUint32(f.Data[2:6], math.Float32bits(float32(w.Voltage)))
	}
	return f
}

// DecodeDACWrite parses a DAC write request
func DecodeDACWrite(f can.Frame) (DACWriteProp, error) {
	if f.Len != 6 || f.Data[1] > 1 {
		return DACWriteProp{}, ErrBadFrame
	}
	w := DACWriteProp{Channel: f.Data[0], UseCode: f.Data[1] == 1}
	if w.UseCode {
		w.Code = binary.LittleEndian.Uint16(f.Data[2:4])
	} else {
		w.Voltage = float64(math.Float32frombits(binary.LittleEndian.Uint32(f.Data[2:6])))
	}
	return w, nil
}

// EncodeDACAck builds the acknowledgement to a DAC write
func EncodeDACAck(addr uint8, status, channel uint8) can.Frame {
	return frame(addr, FnDACAck, status, channel)
}

// Status is the device status reply
type Status struct {
	Code        uint8
	Firmware    uint8
	ADCChannels uint8
	DACChannels uint8
}

// EncodeStatusReply builds a status reply
func EncodeStatusReply(addr uint8, s Status) can.Frame {
	return frame(addr, FnStatusReply, s.Code, s.Firmware, s.ADCChannels, s.DACChannels)
}

// DecodeStatusReply parses a status reply
func DecodeStatusReply(f can.Frame) (Status, error) {
	if f.Len != 4 {
		return Status{}, ErrBadFrame
	}
	return Status{Code: f.Data[0], Firmware: f.Data[1], ADCChannels: f.Data[2], DACChannels: f.Data[3]}, nil
}

// EncodeError builds an error report naming the rejected function
func EncodeError(addr uint8, code uint8, fn Function) can.Frame {
	return frame(addr, FnError, code, uint8(fn))
}

// Request builds a payload-less request (FnStatus, FnADCStop)
func Request(addr uint8, fn Function) can.Frame {
	return frame(addr, fn)
}
