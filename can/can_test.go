package can_test

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/kozdaq/can"
)

func TestNewFrameRejectsLongPayload(t *testing.T) {
	_, err := can.NewFrame(0x10, make([]byte, 9))
	assert.ErrorIs(t, err, can.ErrFrameTooLong)
	_, err = can.NewFrame(0x800, nil)
	assert.ErrorIs(t, err, can.ErrBadID)
}

func TestPipeDeliversInOrder(t *testing.T) {
	a, b := can.Pipe()
	defer a.Close()
	for i := 0; i < 5; i++ {
		f, err := can.NewFrame(uint32(i), []byte{byte(i)})
		require.NoError(t, err)
		require.NoError(t, a.Send(f))
	}
	for i := 0; i < 5; i++ {
		f, err := b.Receive(time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), f.ID)
		assert.Equal(t, []byte{byte(i)}, f.Payload())
	}
}

func TestPipeTimeoutAndClose(t *testing.T) {
	a, b := can.Pipe()
	_, err := b.Receive(5 * time.Millisecond)
	assert.ErrorIs(t, err, can.ErrTimeout)

	require.NoError(t, a.Close())
	_, err = b.Receive(time.Second)
	assert.ErrorIs(t, err, can.ErrClosed)
	assert.ErrorIs(t, b.Send(can.Frame{}), can.ErrClosed)
}

func TestSLCANRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		frame can.Frame
		text  string
	}{
		{"standard", can.Frame{ID: 0x0F2, Len: 2, Data: [8]byte{0xAB, 0x01}}, "t0F22AB01\r"},
		{"empty", can.Frame{ID: 0x7FF}, "t7FF0\r"},
		{"extended", can.Frame{ID: 0x1ABCDE, Extended: true, Len: 1, Data: [8]byte{0x10}}, "T001ABCDE110\r"},
		{"remote", can.Frame{ID: 0x123, RTR: true, Len: 4}, "r1234\r"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := can.EncodeSLCAN(c.frame)
			require.NoError(t, err)
			assert.Equal(t, c.text, string(b))
			f, err := can.DecodeSLCAN(b[:len(b)-1])
			require.NoError(t, err)
			assert.Equal(t, c.frame, f)
		})
	}
}

func TestSLCANDecodeRejectsGarbage(t *testing.T) {
	for _, line := range []string{"", "x123", "t12", "t1239", "t1232AB", "t1231ZZ", "r1231AB"} {
		_, err := can.DecodeSLCAN([]byte(line))
		assert.ErrorIs(t, err, can.ErrBadSLCAN, "line %q", line)
	}
}

func TestSLCANOverPort(t *testing.T) {
	host, adapter := net.Pipe()
	bus := can.NewSLCAN(host)

	sent := make(chan string, 4)
	go func() {
		r := bufio.NewReader(adapter)
		for {
			line, err := r.ReadString('\r')
			if err != nil {
				return
			}
			sent <- line
		}
	}()

	go func() {
		io.WriteString(adapter, "z\r\at0082DEAD\r")
	}()
	f, err := bus.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x008), f.ID)
	assert.Equal(t, []byte{0xDE, 0xAD}, f.Payload())
	assert.Equal(t, int64(1), bus.Bells())

	require.NoError(t, bus.Send(can.Frame{ID: 0x1F4, Len: 1, Data: [8]byte{0x7}}))
	assert.Equal(t, "t1F4107\r", <-sent)

	require.NoError(t, bus.Close())
	assert.Equal(t, "C\r", <-sent)
	_, err = bus.Receive(time.Millisecond)
	assert.ErrorIs(t, err, can.ErrClosed)
	adapter.Close()
}
