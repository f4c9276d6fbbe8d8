// Package can provides CAN 2.0 frames and the transports used to reach a bus.
//
// Three transports satisfy Bus:
//
//   - SocketCAN, a raw socket on a Linux CAN network interface (e.g. can0)
//   - SLCAN, a serial-line adapter speaking the Lawicel ASCII protocol
//   - Pipe, an in-process pair of connected endpoints for tests and simulation
//
// A Bus has a single reader; Receive is not concurrent safe.  Send may be called
// from any goroutine.
package can

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxSFFID is the largest standard (11-bit) identifier
	MaxSFFID = 0x7FF

	// MaxEFFID is the largest extended (29-bit) identifier
	MaxEFFID = 0x1FFFFFFF

	// MaxDataLen is the largest classic CAN payload
	MaxDataLen = 8
)

var (
	// ErrClosed is generated when a closed bus is used
	ErrClosed = errors.New("can: bus closed")

	// ErrTimeout is generated when Receive sees no frame before its timeout
	ErrTimeout = errors.New("can: receive timeout")

	// ErrFrameTooLong is generated when a payload exceeds MaxDataLen
	ErrFrameTooLong = errors.New("can: payload longer than 8 bytes")

	// ErrBadID is generated when an identifier does not fit its format
	ErrBadID = errors.New("can: identifier out of range")
)

// Frame is a classic CAN frame
type Frame struct {
	// ID is the 11 or 29 bit identifier
	ID uint32

	// Extended marks a 29-bit identifier
	Extended bool

	// RTR marks a remote transmission request
	RTR bool

	// Len is the number of valid bytes in Data
	Len uint8

	// Data is the payload, only the first Len bytes are meaningful
	Data [MaxDataLen]byte
}

// NewFrame builds a standard frame carrying payload
func NewFrame(id uint32, payload []byte) (Frame, error) {
	var f Frame
	if id > MaxSFFID {
		return f, fmt.Errorf("%w: %#x", ErrBadID, id)
	}
	if len(payload) > MaxDataLen {
		return f, ErrFrameTooLong
	}
	f.ID = id
	f.Len = uint8(len(payload))
	copy(f.Data[:], payload)
	return f, nil
}

// Payload returns the valid portion of Data
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len]
}

// Validate checks the identifier and length agree with the frame format
func (f *Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrFrameTooLong
	}
	max := uint32(MaxSFFID)
	if f.Extended {
		max = MaxEFFID
	}
	if f.ID > max {
		return fmt.Errorf("%w: %#x", ErrBadID, f.ID)
	}
	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("%03X#% X", f.ID, f.Data[:f.Len])
}

// Bus sends and receives frames
type Bus interface {
	// Send transmits a frame
	Send(Frame) error

	// Receive returns the next frame, or ErrTimeout if none arrives within
	// timeout.  timeout <= 0 blocks until a frame arrives or the bus is closed.
	Receive(timeout time.Duration) (Frame, error)

	// Close releases the bus.  Later calls return ErrClosed.
	Close() error
}
