//go:build linux

package can

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// struct can_frame from linux/can.h
const (
	canFrameSize = 16
	effFlag      = 0x80000000
	rtrFlag      = 0x40000000
	errFlag      = 0x20000000
)

// SocketCAN is a Bus on a raw CAN socket
type SocketCAN struct {
	fd    int
	iface string

	// rx is reused by Receive; a Bus has a single reader
	rx        [canFrameSize]byte
	rxTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// OpenSocketCAN binds a raw CAN socket to the named interface, e.g. can0
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("can: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("can: bind %s: %w", iface, err)
	}
	return &SocketCAN{fd: fd, iface: iface, rxTimeout: -1}, nil
}

func (s *SocketCAN) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send writes a frame to the socket
func (s *SocketCAN) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	var b [canFrameSize]byte
	id := f.ID
	if f.Extended {
		id |= effFlag
	}
	if f.RTR {
		id |= rtrFlag
	}
	binary.NativeEndian.PutUint32(b[0:4], id)
	b[4] = f.Len
	copy(b[8:], f.Data[:f.Len])
	for {
		_, err := unix.Write(s.fd, b[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

// Receive reads the next data frame.  Error frames are skipped.
func (s *SocketCAN) Receive(timeout time.Duration) (Frame, error) {
	if timeout <= 0 {
		timeout = 0
	}
	if timeout != s.rxTimeout {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return Frame{}, err
		}
		s.rxTimeout = timeout
	}
	for {
		if s.isClosed() {
			return Frame{}, ErrClosed
		}
		n, err := unix.Read(s.fd, s.rx[:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return Frame{}, ErrTimeout
		case err != nil:
			return Frame{}, err
		case n != canFrameSize:
			return Frame{}, fmt.Errorf("can: short read of %d bytes on %s", n, s.iface)
		}
		id := binary.NativeEndian.Uint32(s.rx[0:4])
		if id&errFlag != 0 {
			continue
		}
		var f Frame
		f.Extended = id&effFlag != 0
		f.RTR = id&rtrFlag != 0
		if f.Extended {
			f.ID = id & MaxEFFID
		} else {
			f.ID = id & MaxSFFID
		}
		f.Len = s.rx[4]
		if f.Len > MaxDataLen {
			f.Len = MaxDataLen
		}
		copy(f.Data[:], s.rx[8:8+f.Len])
		return f, nil
	}
}

// Close closes the socket
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
