//go:build linux

package rtprio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SCHED_FIFO from linux/sched.h
const schedFIFO = 1

type schedParam struct {
	priority int32
}

func getScheduler() (policy int, param schedParam, err error) {
	r, _, errno := unix.RawSyscall(unix.SYS_SCHED_GETSCHEDULER, 0, 0, 0)
	if errno != 0 {
		return 0, param, errno
	}
	_, _, errno = unix.RawSyscall(unix.SYS_SCHED_GETPARAM, 0, uintptr(unsafe.Pointer(&param)), 0)
	if errno != 0 {
		return 0, param, errno
	}
	return int(r), param, nil
}

func setScheduler(policy int, param schedParam) error {
	_, _, errno := unix.RawSyscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(policy), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return errno
	}
	return nil
}

func raise(priority int) (func() error, error) {
	policy, prev, err := getScheduler()
	if err != nil {
		return nil, fmt.Errorf("rtprio: reading scheduling class: %w", err)
	}
	if err := setScheduler(schedFIFO, schedParam{priority: int32(priority)}); err != nil {
		return nil, fmt.Errorf("rtprio: sched_setscheduler(SCHED_FIFO, %d): %w", priority, err)
	}
	return func() error {
		if err := setScheduler(policy, prev); err != nil {
			return fmt.Errorf("rtprio: sched_setscheduler(%d): %w", policy, err)
		}
		return nil
	}, nil
}

// Current reports the policy and priority of the calling thread
func Current() (fifo bool, priority int, err error) {
	policy, p, err := getScheduler()
	if err != nil {
		return false, 0, err
	}
	return policy == schedFIFO, int(p.priority), nil
}
