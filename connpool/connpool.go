// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package connpool provides a reference, in-memory implementation of the
// [dispatch.PeerConnection] and [dispatch.ConnectionPool] contracts, for use
// in tests. A production pool backed by real
// sockets is an external collaborator per the dispatch package's scope;
// this one exists so the dispatch loop is exercisable without one.
package connpool

import (
	"errors"
	"sync"

	"github.com/mtorrent/peerwire"
	"github.com/mtorrent/peerwire/message"
	"github.com/mtorrent/peerwire/peerset"
)

// ErrClosed is returned by Conn methods once the connection has been
// closed.
var ErrClosed = errors.New("connpool: connection closed")

// errFull is returned by PostMessage when the outbound buffer has no room.
// It is a distinct sentinel from ErrClosed so tests can tell the two
// failure modes apart, mirroring how net.Conn distinguishes EOF from other
// write errors.
var errFull = errors.New("connpool: outbound buffer full")

// A Conn is an in-memory [dispatch.PeerConnection]. Messages pushed with
// Deliver become available to ReadMessageNow in FIFO order; messages posted
// by PostMessage are available for a test or CLI to observe from Outbound.
type Conn struct {
	torrentID peerset.TorrentID

	mu       sync.Mutex
	closed   bool
	inbound  chan *message.Message
	outbound chan *message.Message
}

// NewConn constructs a Conn for torrentID with the given inbound/outbound
// buffer capacities.
func NewConn(torrentID peerset.TorrentID, inboundCap, outboundCap int) *Conn {
	return &Conn{
		torrentID: torrentID,
		inbound:   make(chan *message.Message, inboundCap),
		outbound:  make(chan *message.Message, outboundCap),
	}
}

// Deliver makes m available to the next ReadMessageNow call. It reports
// false if the inbound buffer is full or the connection is closed.
func (c *Conn) Deliver(m *message.Message) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	select {
	case c.inbound <- m:
		return true
	default:
		return false
	}
}

// Outbound returns the channel of messages posted to this connection via
// PostMessage, for a test or CLI to drain.
func (c *Conn) Outbound() <-chan *message.Message { return c.outbound }

// ReadMessageNow implements [dispatch.PeerConnection]. It returns (nil, nil)
// when nothing is buffered.
func (c *Conn) ReadMessageNow() (*message.Message, error) {
	select {
	case m, ok := <-c.inbound:
		if ok {
			return m, nil
		}
	default:
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return nil, nil
}

// PostMessage implements [dispatch.PeerConnection].
func (c *Conn) PostMessage(m *message.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case c.outbound <- m:
		return nil
	default:
		return errFull
	}
}

// IsClosed implements [dispatch.PeerConnection].
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TorrentID implements [dispatch.PeerConnection].
func (c *Conn) TorrentID() peerset.TorrentID { return c.torrentID }

// Close marks the connection closed. It is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

// A Pool is an in-memory [dispatch.ConnectionPool] implementing the fuller
// collaborator contract named in this module's scope: lookup, existence
// test on insert, size, and visiting all connections for a torrent.
type Pool struct {
	mu sync.RWMutex
	m  map[peerset.Peer]dispatch.PeerConnection
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{m: make(map[peerset.Peer]dispatch.PeerConnection)}
}

// Get implements [dispatch.ConnectionPool].
func (p *Pool) Get(peer peerset.Peer) (dispatch.PeerConnection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.m[peer]
	return c, ok
}

// AddIfAbsent registers conn for peer and returns it, unless a connection
// is already registered for peer, in which case the existing connection is
// returned and conn is discarded.
func (p *Pool) AddIfAbsent(peer peerset.Peer, conn dispatch.PeerConnection) dispatch.PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.m[peer]; ok {
		return existing
	}
	p.m[peer] = conn
	return conn
}

// Remove discards the connection registered for peer, if any.
func (p *Pool) Remove(peer peerset.Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, peer)
}

// Size reports the number of connections currently registered.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}

// VisitConnections calls visit for every connection currently registered
// for torrentID, over a point-in-time snapshot of the pool.
func (p *Pool) VisitConnections(torrentID peerset.TorrentID, visit func(peerset.Peer, dispatch.PeerConnection)) {
	p.mu.RLock()
	snap := make(map[peerset.Peer]dispatch.PeerConnection, len(p.m))
	for k, v := range p.m {
		snap[k] = v
	}
	p.mu.RUnlock()

	for peer, conn := range snap {
		if conn.TorrentID() == torrentID {
			visit(peer, conn)
		}
	}
}
