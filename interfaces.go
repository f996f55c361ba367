// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package dispatch

import (
	"github.com/mtorrent/peerwire/message"
	"github.com/mtorrent/peerwire/peerset"
)

// A PeerConnection is a bidirectional message channel to one peer. The
// dispatcher accesses a PeerConnection only from its single loop goroutine
// during dispatch; implementations need not be safe for concurrent use by
// multiple callers, only for sequential reuse across iterations.
type PeerConnection interface {
	// ReadMessageNow returns the next buffered message, or (nil, nil) if the
	// transport has nothing buffered right now. It must not block.
	ReadMessageNow() (*message.Message, error)

	// PostMessage sends m to the remote peer. It must not block for longer
	// than local buffering allows.
	PostMessage(*message.Message) error

	// IsClosed reports whether the connection has been torn down.
	IsClosed() bool

	// TorrentID reports the torrent this connection belongs to.
	TorrentID() peerset.TorrentID
}

// A ConnectionPool resolves peer identities to live connections.
// Implementations must be safe for concurrent lookup.
type ConnectionPool interface {
	// Get returns the connection registered for p, if any.
	Get(peerset.Peer) (PeerConnection, bool)
}

// A TorrentRegistry reports whether a torrent is currently known to the
// client and actively being exchanged, i.e. whether it is safe to dispatch
// messages for connections belonging to it. The answer may change at any
// iteration boundary.
type TorrentRegistry interface {
	IsSupportedAndActive(peerset.TorrentID) bool
}
