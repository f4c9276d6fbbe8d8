//go:build !linux

package can

import (
	"errors"
	"time"
)

// ErrNoSocketCAN is generated when SocketCAN is requested off Linux
var ErrNoSocketCAN = errors.New("can: socketcan is only available on linux")

// SocketCAN is unavailable on this platform
type SocketCAN struct{}

// OpenSocketCAN always fails off Linux
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	return nil, ErrNoSocketCAN
}

// Send always fails
func (s *SocketCAN) Send(Frame) error { return ErrNoSocketCAN }

// Receive always fails
func (s *SocketCAN) Receive(time.Duration) (Frame, error) { return Frame{}, ErrNoSocketCAN }

// Close is a no-op
func (s *SocketCAN) Close() error { return nil }
