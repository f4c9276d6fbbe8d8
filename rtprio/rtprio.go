// Package rtprio raises the calling thread to fixed priority FIFO scheduling
// for the duration of a function call.
//
// The scheduling class belongs to an OS thread, not a goroutine, so Scope locks
// the goroutine to its thread for the duration and puts the previous class back
// before unlocking.  Raising requires CAP_SYS_NICE; without it Scope logs a
// warning and runs the function at normal priority.
package rtprio

import (
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

const (
	// MinPriority is the lowest FIFO priority
	MinPriority = 1

	// MaxPriority is the highest FIFO priority
	MaxPriority = 99

	// DefaultPriority is used by both programs
	DefaultPriority = 80
)

// ErrUnsupported is generated on platforms without SCHED_FIFO
var ErrUnsupported = errors.New("rtprio: realtime scheduling not supported on this platform")

// ErrPriorityRange is generated for priorities outside [MinPriority, MaxPriority]
var ErrPriorityRange = fmt.Errorf("rtprio: priority must be in [%d, %d]", MinPriority, MaxPriority)

// Raise moves the calling thread to SCHED_FIFO at priority and returns a
// function that restores the previous policy.  The caller must hold
// runtime.LockOSThread until restore has run.
func Raise(priority int) (restore func() error, err error) {
	if priority < MinPriority || priority > MaxPriority {
		return nil, ErrPriorityRange
	}
	return raise(priority)
}

// Scope runs fn, at FIFO priority when enabled.  The previous scheduling
// class is restored on every return path, before Scope returns.
func Scope(enabled bool, priority int, log *zap.Logger, fn func() error) error {
	if !enabled {
		return fn()
	}
	if log == nil {
		log = zap.NewNop()
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	restore, err := Raise(priority)
	if err != nil {
		log.Warn("[rtprio] running at normal priority", zap.Int("priority", priority), zap.Error(err))
		return fn()
	}
	log.Debug("[rtprio] raised to SCHED_FIFO", zap.Int("priority", priority))
	defer func() {
		if err := restore(); err != nil {
			log.Error("[rtprio] restoring scheduling class", zap.Error(err))
			return
		}
		log.Debug("[rtprio] restored scheduling class")
	}()
	return fn()
}
