package rtprio_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/kozdaq/rtprio"
)

func TestRaiseRejectsRange(t *testing.T) {
	for _, p := range []int{0, -1, 100} {
		_, err := rtprio.Raise(p)
		assert.ErrorIs(t, err, rtprio.ErrPriorityRange, "priority %d", p)
	}
}

func TestScopeDisabledRunsFn(t *testing.T) {
	sentinel := errors.New("boom")
	called := false
	err := rtprio.Scope(false, rtprio.DefaultPriority, nil, func() error {
		called = true
		return sentinel
	})
	assert.True(t, called)
	assert.ErrorIs(t, err, sentinel)
}

// Scope runs fn whether or not the process may raise its priority, and the
// thread is back at its previous class afterwards.
func TestScopeRestores(t *testing.T) {
	fifoBefore, _, errBefore := rtprio.Current()
	ran := false
	err := rtprio.Scope(true, rtprio.DefaultPriority, nil, func() error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
	if errBefore != nil {
		t.Skip("scheduling class not readable on this platform")
	}
	fifoAfter, _, err := rtprio.Current()
	assert.NoError(t, err)
	assert.Equal(t, fifoBefore, fifoAfter)
}

func TestScopeRestoresOnError(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fifoBefore, prioBefore, errBefore := rtprio.Current()
	sentinel := errors.New("dac write failed")
	err := rtprio.Scope(true, rtprio.DefaultPriority, nil, func() error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	if errBefore != nil {
		t.Skip("scheduling class not readable on this platform")
	}
	fifoAfter, prioAfter, err := rtprio.Current()
	assert.NoError(t, err)
	assert.Equal(t, fifoBefore, fifoAfter)
	assert.Equal(t, prioBefore, prioAfter)
}

func TestScopeRestoresOnPanic(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fifoBefore, prioBefore, errBefore := rtprio.Current()
	func() {
		defer func() {
			assert.Equal(t, "buffer overflow", recover())
		}()
		rtprio.Scope(true, rtprio.DefaultPriority, nil, func() error {
			panic("buffer overflow")
		})
	}()
	if errBefore != nil {
		t.Skip("scheduling class not readable on this platform")
	}
	fifoAfter, prioAfter, err := rtprio.Current()
	assert.NoError(t, err)
	assert.Equal(t, fifoBefore, fifoAfter)
	assert.Equal(t, prioBefore, prioAfter)
}
