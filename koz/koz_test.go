package koz_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/kozdaq/can"
	"github.com/nasa-jpl/kozdaq/koz"
	"github.com/nasa-jpl/kozdaq/koz/kozsim"
)

func simNode(t *testing.T) (*koz.Node, *kozsim.Simulator) {
	t.Helper()
	bus, sim := kozsim.Pair(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()
	node := koz.NewNode(bus, "sim", nil)
	t.Cleanup(func() {
		cancel()
		node.Close()
		assert.NoError(t, <-done)
	})
	return node, sim
}

func TestSetupReadsStatus(t *testing.T) {
	node, sim := simNode(t)
	dev, err := koz.Setup(node, 0x0f, time.Second)
	require.NoError(t, err)
	assert.Equal(t, sim.Status, dev.Status())
	assert.Equal(t, uint8(0x0f), dev.Address())
}

func TestSetupTimesOut(t *testing.T) {
	node, sim := simNode(t)
	sim.Mute.Store(true)
	_, err := koz.Setup(node, 0x0f, 20*time.Millisecond)
	var cerr *koz.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint8(0x0f), cerr.Address)
	assert.ErrorIs(t, err, koz.ErrTimeout)
}

func TestSetupRejectsWideAddress(t *testing.T) {
	node, _ := simNode(t)
	_, err := koz.Setup(node, 0x80, time.Second)
	var cerr *koz.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestListenDeliversSweepsInOrder(t *testing.T) {
	node, sim := simNode(t)
	dev, err := koz.Setup(node, 0x0f, time.Second)
	require.NoError(t, err)

	const want = 60
	var (
		got  []koz.ADCResult
		stop atomic.Bool
	)
	prop := koz.ADCReadMProp{ChannelBegin: 4, ChannelEnd: 9, Mode: 0x30, Period: koz.ReadTime1ms}
	require.NoError(t, dev.ReadADCMulti(prop, func(r koz.ADCResult) {
		got = append(got, r)
		if len(got) == want {
			stop.Store(true)
		}
	}))
	require.NoError(t, dev.Listen(&stop))
	require.Len(t, got, want)
	for i, r := range got {
		assert.Equal(t, 4+i%6, r.Channel, "sample %d", i)
	}

	require.NoError(t, dev.StopADC())
	assert.Eventually(t, func() bool { return !sim.Streaming(0x0f) }, time.Second, time.Millisecond)
}

func TestListenReturnsWhenStopAlreadySet(t *testing.T) {
	node, _ := simNode(t)
	dev, err := koz.Setup(node, 0x0f, time.Second)
	require.NoError(t, err)
	var stop atomic.Bool
	stop.Store(true)
	assert.NoError(t, dev.Listen(&stop))
}

func TestWriteDACIsAcknowledged(t *testing.T) {
	node, sim := simNode(t)
	dev, err := koz.Setup(node, 0x1f, time.Second)
	require.NoError(t, err)

	require.NoError(t, dev.WriteDAC(1, 1.5))
	v, ok := sim.DAC(0x1f, 1)
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
	assert.Equal(t, int64(1), sim.Writes())

	assert.ErrorIs(t, dev.WriteDAC(0, 10.5), koz.ErrVoltageTooHigh)
	assert.ErrorIs(t, dev.WriteDAC(0, -11), koz.ErrVoltageTooLow)
	assert.ErrorIs(t, dev.WriteDAC(7, 0), koz.ErrDevice)

	sim.RejectDAC.Store(true)
	assert.ErrorIs(t, dev.WriteDAC(0, 1), koz.ErrDevice)
}

func TestWriteDACCode(t *testing.T) {
	node, sim := simNode(t)
	dev, err := koz.Setup(node, 0x1f, time.Second)
	require.NoError(t, err)
	require.NoError(t, dev.WriteDACCode(0, 0))
	v, ok := sim.DAC(0x1f, 0)
	require.True(t, ok)
	assert.Equal(t, koz.MinVoltage, v)
}

func TestReadADCSingle(t *testing.T) {
	node, _ := simNode(t)
	dev, err := koz.Setup(node, 0x0f, time.Second)
	require.NoError(t, err)

	var (
		got  []koz.ADCResult
		stop atomic.Bool
	)
	require.NoError(t, dev.ReadADCSingle(5, 0x30, func(r koz.ADCResult) {
		got = append(got, r)
		stop.Store(true)
	}))
	require.NoError(t, dev.Listen(&stop))
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Channel)
	assert.Equal(t, kozsim.Sine(5, 0), got[0].Voltage)
	assert.Zero(t, dev.Dropped())
}

func TestListenDropsBadSamples(t *testing.T) {
	host, dev := can.Pipe()
	node := koz.NewNode(host, "pipe", nil)
	defer node.Close()

	// the status reply is queued ahead of the request it answers
	require.NoError(t, dev.Send(koz.EncodeStatusReply(0x0f, koz.Status{ADCChannels: 16})))
	d, err := koz.Setup(node, 0x0f, time.Second)
	require.NoError(t, err)

	var (
		got  []koz.ADCResult
		stop atomic.Bool
	)
	prop := koz.ADCReadMProp{ChannelBegin: 4, ChannelEnd: 9, Mode: 0x30, Period: koz.ReadTime1ms}
	require.NoError(t, d.ReadADCMulti(prop, func(r koz.ADCResult) {
		got = append(got, r)
		stop.Store(true)
	}))

	flagged := koz.EncodeADCResult(0x0f, koz.ADCResult{Status: 1, Channel: 4, Voltage: 1})
	short := koz.EncodeADCResult(0x0f, koz.ADCResult{Channel: 4, Voltage: 1})
	short.Len = 3
	other := koz.EncodeADCResult(0x1f, koz.ADCResult{Channel: 4, Voltage: 3})
	good := koz.EncodeADCResult(0x0f, koz.ADCResult{Channel: 6, Voltage: 2})
	for _, f := range []can.Frame{flagged, short, other, good} {
		require.NoError(t, dev.Send(f))
	}

	require.NoError(t, d.Listen(&stop))
	require.Len(t, got, 1)
	assert.Equal(t, 6, got[0].Channel)
	assert.Equal(t, 2., got[0].Voltage)
	assert.Equal(t, int64(2), d.Dropped())
}
