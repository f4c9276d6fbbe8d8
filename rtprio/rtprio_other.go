//go:build !linux

package rtprio

func raise(int) (func() error, error) {
	return nil, ErrUnsupported
}

// Current reports the policy and priority of the calling thread
func Current() (fifo bool, priority int, err error) {
	return false, 0, ErrUnsupported
}
