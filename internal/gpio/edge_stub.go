//go:build !linux

package gpio

import (
	"fmt"
	"time"
)

type Edge struct{}

func OpenFallingEdge(chip string, offset int, consumer string) (*Edge, error) {
	return nil, fmt.Errorf("gpio: edge events unsupported on this platform")
}

func (e *Edge) Wait(timeout time.Duration) (bool, error) { return false, ErrClosed }

func (e *Edge) Close() error { return nil }
