package i2c

import (
	"sync"
	"sync/atomic"
)

// claim is the ownership token shared by every consumer of one bus.
// The flag mirrors the mutex so contention can be observed without blocking.
type claim struct {
	mu   sync.Mutex
	busy atomic.Bool
}

func (c *claim) claim() {
	c.mu.Lock()
	c.busy.Store(true)
}

func (c *claim) tryClaim() bool {
	if !c.mu.TryLock() {
		return false
	}
	c.busy.Store(true)
	return true
}

func (c *claim) release() {
	if !c.busy.Swap(false) {
		return
	}
	c.mu.Unlock()
}

func (c *claim) held() bool { return c.busy.Load() }
