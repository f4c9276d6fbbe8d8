// Package config loads the settings of kozmon and kozsend.
//
// Settings are layered: compiled defaults, then a YAML file, then environment
// variables.  Environment variables carry the program prefix and use a double
// underscore between nesting levels, e.g.
//
//	KOZMON_NODE__INTERFACE=vcan0
//	KOZSEND_RUNTIME__REALTIME=false
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/kozdaq/acquire"
	"github.com/nasa-jpl/kozdaq/curve"
	"github.com/nasa-jpl/kozdaq/drive"
	"github.com/nasa-jpl/kozdaq/koz"
	"github.com/nasa-jpl/kozdaq/rtprio"
)

// Transports accepted in Node.Transport
const (
	TransportSocketCAN = "socketcan"
	TransportSLCAN     = "slcan"
	TransportSim       = "sim"
)

// ErrInvalid is wrapped by every validation error
var ErrInvalid = errors.New("invalid configuration")

// Node describes how to reach the CAN bus
type Node struct {
	// Transport is one of socketcan, slcan, sim
	Transport string `koanf:"transport" yaml:"transport"`

	// Interface is a network interface (can0) or a serial device (/dev/ttyACM0)
	Interface string `koanf:"interface" yaml:"interface"`

	// Baud is the serial line rate, slcan only
	Baud int `koanf:"baud" yaml:"baud"`

	// Bitrate is the CAN bit rate, slcan only
	Bitrate int `koanf:"bitrate" yaml:"bitrate"`

	// Timeout bounds the wait for each device reply
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Runtime is shared by both programs
type Runtime struct {
	Realtime   bool   `koanf:"realtime" yaml:"realtime"`
	Priority   int    `koanf:"priority" yaml:"priority"`
	Verbose    bool   `koanf:"verbose" yaml:"verbose"`
	LogFile    string `koanf:"logfile" yaml:"logfile"`
	StatusAddr string `koanf:"statusaddr" yaml:"statusaddr"`
}

// Monitor configures kozmon
type Monitor struct {
	Node         Node    `koanf:"node" yaml:"node"`
	Address      int     `koanf:"address" yaml:"address"`
	Capacity     int     `koanf:"capacity" yaml:"capacity"`
	ChannelBegin int     `koanf:"channelbegin" yaml:"channelbegin"`
	ChannelEnd   int     `koanf:"channelend" yaml:"channelend"`
	Mode         int     `koanf:"mode" yaml:"mode"`
	Period       string  `koanf:"period" yaml:"period"`
	FITS         string  `koanf:"fits" yaml:"fits"`
	Spinner      bool    `koanf:"spinner" yaml:"spinner"`
	Runtime      Runtime `koanf:"runtime" yaml:"runtime"`
}

// Send configures kozsend
type Send struct {
	Node         Node          `koanf:"node" yaml:"node"`
	Address      int           `koanf:"address" yaml:"address"`
	Channels     []int         `koanf:"channels" yaml:"channels"`
	Speed        float64       `koanf:"speed" yaml:"speed"`
	Period       time.Duration `koanf:"period" yaml:"period"`
	SinglePeriod bool          `koanf:"singleperiod" yaml:"singleperiod"`
	MaxRadius    float64       `koanf:"maxradius" yaml:"maxradius"`
	Segments     int           `koanf:"segments" yaml:"segments"`
	Trace        bool          `koanf:"trace" yaml:"trace"`
	Runtime      Runtime       `koanf:"runtime" yaml:"runtime"`
}

func defaultNode() Node {
	return Node{
		Transport: TransportSocketCAN,
		Interface: "can0",
		Baud:      115200,
		Bitrate:   1000000,
		Timeout:   koz.DefaultTimeout,
	}
}

func defaultRuntime() Runtime {
	return Runtime{Realtime: true, Priority: rtprio.DefaultPriority}
}

// DefaultMonitor returns the kozmon defaults
func DefaultMonitor() Monitor {
	return Monitor{
		Node:         defaultNode(),
		Address:      0x0f,
		Capacity:     acquire.DefaultCapacity,
		ChannelBegin: 4,
		ChannelEnd:   9,
		Mode:         0x30,
		Period:       "1ms",
		Spinner:      true,
		Runtime:      defaultRuntime(),
	}
}

// DefaultSend returns the kozsend defaults
func DefaultSend() Send {
	return Send{
		Node:      defaultNode(),
		Address:   0x1f,
		Channels:  []int{0, 1},
		Speed:     drive.DefaultSpeed,
		Period:    drive.DefaultPeriod,
		MaxRadius: curve.DefaultMaxRadius,
		Segments:  curve.DefaultSegments,
		Runtime:   defaultRuntime(),
	}
}

// Load layers defaults, the YAML file at path and environment variables
// starting with prefix into k.  A missing file is not an error.
func Load(k *koanf.Koanf, defaults interface{}, path, prefix string) error {
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !strings.Contains(err.Error(), "no such") {
				return fmt.Errorf("loading %s: %w", path, err)
			}
		}
	}
	return k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
	}), nil)
}

// Write encodes v as YAML
func Write(w io.Writer, v interface{}) error {
	enc := yml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the node settings
func (n Node) Validate() error {
	switch n.Transport {
	case TransportSocketCAN, TransportSim:
	case TransportSLCAN:
		if n.Baud <= 0 || n.Bitrate <= 0 {
			return invalid("slcan needs a positive baud and bitrate")
		}
	default:
		return invalid("unknown transport %q", n.Transport)
	}
	if n.Interface == "" && n.Transport != TransportSim {
		return invalid("node interface is empty")
	}
	return nil
}

// Validate checks the runtime settings
func (r Runtime) Validate() error {
	if r.Realtime && (r.Priority < rtprio.MinPriority || r.Priority > rtprio.MaxPriority) {
		return invalid("priority %d outside [%d, %d]", r.Priority, rtprio.MinPriority, rtprio.MaxPriority)
	}
	return nil
}

func validAddress(a int) error {
	if a < 0 || a > koz.MaxAddress {
		return invalid("address %#x outside [0, %#x]", a, koz.MaxAddress)
	}
	return nil
}

// Prop converts the channel settings to a read request
func (m Monitor) Prop() (koz.ADCReadMProp, error) {
	period, err := koz.ParseReadPeriod(m.Period)
	if err != nil {
		return koz.ADCReadMProp{}, invalid("%v", err)
	}
	for _, v := range []int{m.ChannelBegin, m.ChannelEnd, m.Mode} {
		if v < 0 || v > 0xFF {
			return koz.ADCReadMProp{}, invalid("channel or mode %d does not fit a byte", v)
		}
	}
	p := koz.ADCReadMProp{
		ChannelBegin: uint8(m.ChannelBegin),
		ChannelEnd:   uint8(m.ChannelEnd),
		Mode:         uint8(m.Mode),
		Period:       period,
	}
	if err := p.Validate(); err != nil {
		return p, invalid("%v", err)
	}
	return p, nil
}

// Validate checks every kozmon setting
func (m Monitor) Validate() error {
	if err := m.Node.Validate(); err != nil {
		return err
	}
	if err := m.Runtime.Validate(); err != nil {
		return err
	}
	if err := validAddress(m.Address); err != nil {
		return err
	}
	if m.Capacity <= 0 {
		return invalid("capacity must be positive")
	}
	_, err := m.Prop()
	return err
}

// Validate checks every kozsend setting
func (s Send) Validate() error {
	if err := s.Node.Validate(); err != nil {
		return err
	}
	if err := s.Runtime.Validate(); err != nil {
		return err
	}
	if err := validAddress(s.Address); err != nil {
		return err
	}
	if len(s.Channels) != 2 {
		return invalid("need exactly two channels, got %d", len(s.Channels))
	}
	if s.Period <= 0 {
		return invalid("period must be positive")
	}
	if s.Segments < 1 {
		return invalid("segments must be at least 1")
	}
	return nil
}
