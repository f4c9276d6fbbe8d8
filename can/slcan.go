package can

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// slcanPoll is the serial read timeout; it bounds how long the reader
// goroutine takes to notice Close
const slcanPoll = 50 * time.Millisecond

var (
	// ErrBadSLCAN is generated when a line from the adapter cannot be parsed
	ErrBadSLCAN = errors.New("can: malformed slcan frame")

	// slcanBitrates maps CAN bitrate to the Lawicel Sn setup command
	slcanBitrates = map[int]string{
		10000:   "S0",
		20000:   "S1",
		50000:   "S2",
		100000:  "S3",
		125000:  "S4",
		250000:  "S5",
		500000:  "S6",
		800000:  "S7",
		1000000: "S8",
	}
)

// SLCAN is a Bus on a serial-line CAN adapter (CANable, USBtin, Lawicel CANUSB)
type SLCAN struct {
	port io.ReadWriteCloser

	frames chan Frame
	failed chan struct{}
	err    error
	done   chan struct{}

	bells     atomic.Int64
	wmu       sync.Mutex
	closeOnce sync.Once
	failOnce  sync.Once
}

// OpenSLCAN opens the adapter at device (e.g. /dev/ttyACM0) with the given
// serial baud, configures the CAN bitrate and opens the channel
func OpenSLCAN(device string, baud, bitrate int) (*SLCAN, error) {
	setup, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("can: unsupported slcan bitrate %d", bitrate)
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: slcanPoll})
	if err != nil {
		return nil, err
	}
	s := NewSLCAN(port)
	// the adapter may have been left open by a previous process
	for _, cmd := range []string{"C", setup, "O"} {
		if err := s.command(cmd); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewSLCAN wraps an already configured port.  The channel is assumed open.
func NewSLCAN(port io.ReadWriteCloser) *SLCAN {
	s := &SLCAN{
		port:   port,
		frames: make(chan Frame, PipeDepth),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *SLCAN) command(cmd string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.port.Write([]byte(cmd + "\r"))
	return err
}

// Send writes a frame to the adapter
func (s *SLCAN) Send(f Frame) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	b, err := EncodeSLCAN(f)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err = s.port.Write(b)
	return err
}

// Receive returns the next frame decoded from the adapter
func (s *SLCAN) Receive(timeout time.Duration) (Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.failed:
		return Frame{}, s.err
	case <-s.done:
		return Frame{}, ErrClosed
	case <-expired:
		return Frame{}, ErrTimeout
	}
}

// Bells returns the number of error (BEL) responses seen from the adapter
func (s *SLCAN) Bells() int64 {
	return s.bells.Load()
}

// Close closes the CAN channel and the serial port
func (s *SLCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.command("C")
		close(s.done)
		err = s.port.Close()
	})
	return err
}

func (s *SLCAN) fail(err error) {
	s.failOnce.Do(func() {
		s.err = err
		close(s.failed)
	})
}

func (s *SLCAN) readLoop() {
	buf := make([]byte, 256)
	line := make([]byte, 0, 32)
	for {
		n, err := s.port.Read(buf)
		for _, c := range buf[:n] {
			switch c {
			case '\r':
				if f, err := DecodeSLCAN(line); err == nil {
					select {
					case s.frames <- f:
					case <-s.done:
						return
					}
				}
				line = line[:0]
			case '\a':
				s.bells.Add(1)
				line = line[:0]
			default:
				if len(line) < cap(line) {
					line = append(line, c)
				}
			}
		}
		select {
		case <-s.done:
			return
		default:
		}
		// tarm/serial reports a read timeout as io.EOF
		if err != nil && !errors.Is(err, io.EOF) {
			s.fail(err)
			return
		}
	}
}

// EncodeSLCAN renders a frame as a Lawicel command, including the trailing CR
func EncodeSLCAN(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var (
		kind  byte
		idLen int
	)
	switch {
	case f.Extended && f.RTR:
		kind, idLen = 'R', 8
	case f.Extended:
		kind, idLen = 'T', 8
	case f.RTR:
		kind, idLen = 'r', 3
	default:
		kind, idLen = 't', 3
	}
	out := make([]byte, 0, 1+idLen+1+2*int(f.Len)+1)
	out = append(out, kind)
	out = append(out, fmt.Sprintf("%0*X", idLen, f.ID)...)
	out = append(out, '0'+f.Len)
	if !f.RTR {
		for _, b := range f.Data[:f.Len] {
			out = append(out, fmt.Sprintf("%02X", b)...)
		}
	}
	return append(out, '\r'), nil
}

// DecodeSLCAN parses one Lawicel frame line, without the trailing CR
func DecodeSLCAN(line []byte) (Frame, error) {
	var f Frame
	if len(line) == 0 {
		return f, ErrBadSLCAN
	}
	idLen := 3
	switch line[0] {
	case 't':
	case 'r':
		f.RTR = true
	case 'T':
		f.Extended, idLen = true, 8
	case 'R':
		f.Extended, f.RTR, idLen = true, true, 8
	default:
		return f, ErrBadSLCAN
	}
	if len(line) < 1+idLen+1 {
		return f, ErrBadSLCAN
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: %v", ErrBadSLCAN, err)
	}
	f.ID = uint32(id)
	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return f, ErrBadSLCAN
	}
	f.Len = dlc - '0'
	data := line[2+idLen:]
	if f.RTR {
		if len(data) != 0 {
			return f, ErrBadSLCAN
		}
		return f, f.Validate()
	}
	if len(data) != 2*int(f.Len) {
		return f, ErrBadSLCAN
	}
	if _, err := hex.Decode(f.Data[:f.Len], data); err != nil {
		return f, fmt.Errorf("%w: %v", ErrBadSLCAN, err)
	}
	return f, f.Validate()
}
