//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Edge is an input line requested for falling-edge events through the GPIO
// character device.
type Edge struct {
	line *gpiocdev.Line
	w    *waiter
}

// OpenFallingEdge requests offset on chip (e.g. "gpiochip3") as an input
// with falling-edge detection.
func OpenFallingEdge(chip string, offset int, consumer string) (*Edge, error) {
	if chip == "" {
		return nil, fmt.Errorf("gpio: chip is required")
	}
	if offset < 0 {
		return nil, fmt.Errorf("gpio: invalid line offset %d", offset)
	}
	w := newWaiter()
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { w.notify() }),
		gpiocdev.WithConsumer(consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("gpio: request %s line %d: %w", chip, offset, err)
	}
	return &Edge{line: line, w: w}, nil
}

// Wait blocks until a falling edge arrives or timeout elapses.
func (e *Edge) Wait(timeout time.Duration) (bool, error) {
	if e == nil || e.w == nil {
		return false, ErrClosed
	}
	return e.w.wait(timeout)
}

func (e *Edge) Close() error {
	if e == nil || e.line == nil {
		return nil
	}
	e.w.close()
	err := e.line.Close()
	e.line = nil
	return err
}
