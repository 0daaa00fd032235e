// Package udp sends attitude snapshots as JSON datagrams.
package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// Broadcaster writes each payload as one datagram to a fixed destination,
// which may be a unicast or broadcast address.
type Broadcaster struct {
	dest string
	conn udpConn
	sent atomic.Uint64
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
	return newBroadcaster(dest, net.ResolveUDPAddr, dial)
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", dest, err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", dest, err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

// Sent is the number of datagrams written so far.
func (b *Broadcaster) Sent() uint64 { return b.sent.Load() }

func (b *Broadcaster) Send(payload []byte) error {
	switch {
	case len(payload) == 0:
		return nil
	case len(payload) > maxDatagram:
		return fmt.Errorf("udp: payload of %d bytes does not fit one datagram", len(payload))
	}
	if _, err := b.conn.Write(payload); err != nil {
		return fmt.Errorf("udp: send to %s: %w", b.dest, err)
	}
	b.sent.Add(1)
	return nil
}

// SendJSON marshals v and sends it as one datagram.
func (b *Broadcaster) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("udp: marshal: %w", err)
	}
	return b.Send(payload)
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
