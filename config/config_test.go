package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/kozdaq/config"
	"github.com/nasa-jpl/kozdaq/koz"
)

func TestDefaultsWithoutFile(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, config.Load(k, config.DefaultMonitor(), filepath.Join(t.TempDir(), "absent.yml"), "KOZMON_"))
	var m config.Monitor
	require.NoError(t, k.Unmarshal("", &m))
	assert.Equal(t, config.DefaultMonitor(), m)
	require.NoError(t, m.Validate())

	p, err := m.Prop()
	require.NoError(t, err)
	assert.Equal(t, koz.ADCReadMProp{ChannelBegin: 4, ChannelEnd: 9, Mode: 0x30, Period: koz.ReadTime1ms}, p)
	assert.Equal(t, 0x10000, m.Capacity)
}

func TestFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kozsend.yml")
	yml := "node:\n  transport: sim\nspeed: 2.5\nperiod: 20ms\nchannels: [2, 3]\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("KOZSEND_SPEED", "4")
	t.Setenv("KOZSEND_RUNTIME__REALTIME", "false")
	t.Setenv("KOZSEND_NODE__INTERFACE", "vcan1")

	k := koanf.New(".")
	require.NoError(t, config.Load(k, config.DefaultSend(), path, "KOZSEND_"))
	var s config.Send
	require.NoError(t, k.Unmarshal("", &s))

	assert.Equal(t, config.TransportSim, s.Node.Transport)
	assert.Equal(t, "vcan1", s.Node.Interface)
	assert.Equal(t, 4., s.Speed)
	assert.Equal(t, 20*time.Millisecond, s.Period)
	assert.Equal(t, []int{2, 3}, s.Channels)
	assert.False(t, s.Runtime.Realtime)
	assert.Equal(t, 80, s.Runtime.Priority)
	assert.Equal(t, 7.4, s.MaxRadius)
	assert.NoError(t, s.Validate())
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kozmon.yml")
	require.NoError(t, os.WriteFile(path, []byte("node: [unclosed"), 0o644))
	assert.Error(t, config.Load(koanf.New("."), config.DefaultMonitor(), path, "KOZMON_"))
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Monitor)
	}{
		{"transport", func(m *config.Monitor) { m.Node.Transport = "usb" }},
		{"address", func(m *config.Monitor) { m.Address = 0x80 }},
		{"capacity", func(m *config.Monitor) { m.Capacity = 0 }},
		{"period", func(m *config.Monitor) { m.Period = "2ms" }},
		{"range", func(m *config.Monitor) { m.ChannelBegin = 10 }},
		{"priority", func(m *config.Monitor) { m.Runtime.Priority = 0 }},
		{"slcan", func(m *config.Monitor) { m.Node.Transport = config.TransportSLCAN; m.Node.Baud = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := config.DefaultMonitor()
			c.mutate(&m)
			assert.ErrorIs(t, m.Validate(), config.ErrInvalid)
		})
	}

	s := config.DefaultSend()
	s.Channels = []int{0}
	assert.ErrorIs(t, s.Validate(), config.ErrInvalid)
}

func TestWriteRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, config.Write(&buf, config.DefaultSend()))
	assert.Contains(t, buf.String(), "maxradius: 7.4")

	path := filepath.Join(t.TempDir(), "kozsend.yml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	k := koanf.New(".")
	require.NoError(t, config.Load(k, config.Send{}, path, "KOZSEND_TEST_UNSET_"))
	var s config.Send
	require.NoError(t, k.Unmarshal("", &s))
	assert.Equal(t, config.DefaultSend(), s)
}
