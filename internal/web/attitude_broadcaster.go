package web

import (
	"sync"

	"dmpimu/internal/ahrs"
)

// AttitudeBroadcaster fans snapshots out to stream subscribers. It keeps the
// most recent value so a new subscriber gets a sample straight away.
type AttitudeBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan ahrs.Snapshot
	nextID   int
	last     ahrs.Snapshot
	haveLast bool
}

func NewAttitudeBroadcaster() *AttitudeBroadcaster {
	return &AttitudeBroadcaster{
		subs: make(map[int]chan ahrs.Snapshot),
	}
}

func (b *AttitudeBroadcaster) Subscribe(buffer int) (int, <-chan ahrs.Snapshot) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan ahrs.Snapshot, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	return id, ch
}

func (b *AttitudeBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish never blocks: a subscriber whose buffer is full misses the sample.
func (b *AttitudeBroadcaster) Publish(snap ahrs.Snapshot) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = snap
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (b *AttitudeBroadcaster) Last() (ahrs.Snapshot, bool) {
	if b == nil {
		return ahrs.Snapshot{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}

func (b *AttitudeBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
