package can

import (
	"sync"
	"time"
)

// PipeDepth is the number of frames buffered in each direction of a Pipe
const PipeDepth = 1024

type pipeEnd struct {
	rx   <-chan Frame
	tx   chan<- Frame
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected endpoints; frames sent on one are received on
// the other.  Closing either endpoint closes both.
func Pipe() (Bus, Bus) {
	ab := make(chan Frame, PipeDepth)
	ba := make(chan Frame, PipeDepth)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeEnd{rx: ba, tx: ab, done: done, once: once}
	b := &pipeEnd{rx: ab, tx: ba, done: done, once: once}
	return a, b
}

func (p *pipeEnd) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.tx <- f:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive(timeout time.Duration) (Frame, error) {
	// drain before reporting closed, so frames sent just before Close survive
	select {
	case f := <-p.rx:
		return f, nil
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case f := <-p.rx:
		return f, nil
	case <-p.done:
		return Frame{}, ErrClosed
	case <-expired:
		return Frame{}, ErrTimeout
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
