package gpio

import (
	"errors"
	"time"
)

// ErrClosed is returned by Wait once the line has been released.
var ErrClosed = errors.New("gpio: edge line closed")

// waiter coalesces edge notifications into a single pending slot. The
// interrupt fires once per DMP sample, so a missed intermediate edge only
// means the FIFO holds two packets, which the reader already handles.
type waiter struct {
	events chan struct{}
	done   chan struct{}
}

func newWaiter() *waiter {
	return &waiter{events: make(chan struct{}, 1), done: make(chan struct{})}
}

func (w *waiter) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}

func (w *waiter) wait(timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		return false, ErrClosed
	case <-w.events:
		return true, nil
	case <-t.C:
		return false, nil
	}
}

func (w *waiter) close() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
