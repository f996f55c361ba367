// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package aggregator folds per-connection transfer counters into
// torrent-wide totals that survive peer disconnection.
//
// An [Aggregator] is queried from any goroutine, typically on a different
// thread than the dispatch loop it observes. It treats the worker's peer
// set and each connection's running byte counters as read-only snapshots.
package aggregator

import (
	"sync"
	"sync/atomic"

	"github.com/mtorrent/peerwire/peerset"
)

// A Worker tracks per-peer exchange state for one torrent.
type Worker interface {
	// Peers reports the torrent's current live peer set.
	Peers() []peerset.Peer

	// ConnectionState reports the running downloaded/uploaded byte counters
	// for p, and whether p is currently known to the worker.
	ConnectionState(p peerset.Peer) (downloaded, uploaded uint64, ok bool)
}

// A DataDescriptor reports a torrent's piece geometry once its metadata has
// been fetched. Before that, callers see the placeholder values documented
// on [Aggregator.PiecesTotal] and [Aggregator.PiecesRemaining].
type DataDescriptor interface {
	TotalPieces() int
	RemainingPieces() int
}

type amounts struct {
	down uint64
	up   uint64
}

// An Aggregator folds the live and disconnected byte counters for one
// torrent's peer set. The zero value is not ready for use; construct one
// with [New].
//
// All methods are safe for concurrent use by multiple goroutines, including
// concurrently with the dispatch loop that drives the worker and
// connections the Aggregator reads from.
type Aggregator struct {
	worker Worker
	data   DataDescriptor // may be nil

	mu     sync.Mutex
	recent map[peerset.Peer]amounts

	disconnectedDown atomic.Uint64
	disconnectedUp   atomic.Uint64
}

// New constructs an Aggregator over worker. data may be nil, in which case
// [Aggregator.PiecesTotal] and [Aggregator.PiecesRemaining] report the
// metadata-phase placeholder of 1.
func New(worker Worker, data DataDescriptor) *Aggregator {
	return &Aggregator{
		worker: worker,
		data:   data,
		recent: make(map[peerset.Peer]amounts),
	}
}

// PiecesTotal reports the torrent's total piece count, or 1 if no data
// descriptor has been attached yet.
func (a *Aggregator) PiecesTotal() int {
	if a.data == nil {
		return 1
	}
	return a.data.TotalPieces()
}

// PiecesRemaining reports the torrent's remaining piece count, or 1 under
// the same placeholder rule as [Aggregator.PiecesTotal].
func (a *Aggregator) PiecesRemaining() int {
	if a.data == nil {
		return 1
	}
	return a.data.RemainingPieces()
}

// ConnectedPeers returns an immutable snapshot of the worker's current peer
// set.
func (a *Aggregator) ConnectedPeers() []peerset.Peer {
	return a.worker.Peers()
}

// Downloaded returns the cumulative bytes downloaded on this torrent since
// session start, counting both connected and previously-disconnected
// peers exactly once each.
func (a *Aggregator) Downloaded() uint64 {
	return a.fold(func(am amounts) uint64 { return am.down }, &a.disconnectedDown)
}

// Uploaded returns the cumulative bytes uploaded, under the same counting
// rule as [Aggregator.Downloaded].
func (a *Aggregator) Uploaded() uint64 {
	return a.fold(func(am amounts) uint64 { return am.up }, &a.disconnectedUp)
}

// fold runs the counter-folding algorithm and returns the requested axis'
// total. The whole migration is serialized by a.mu so that a peer cannot be
// observed live by one axis and disconnected by the other.
func (a *Aggregator) fold(axis func(amounts) uint64, disconnectedAxis *atomic.Uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := make(map[peerset.Peer]amounts)
	for _, p := range a.worker.Peers() {
		down, up, ok := a.worker.ConnectionState(p)
		if !ok {
			continue
		}
		live[p] = amounts{down: down, up: up}
	}

	for p, am := range live {
		a.recent[p] = am
	}
	for p, am := range a.recent {
		if _, stillLive := live[p]; stillLive {
			continue
		}
		a.disconnectedDown.Add(am.down)
		a.disconnectedUp.Add(am.up)
		delete(a.recent, p)
	}

	var total uint64
	for _, am := range a.recent {
		total += axis(am)
	}
	return total + disconnectedAxis.Load()
}

// Gauges is a point-in-time snapshot of a torrent's peer population,
// mirroring the conventional gauge grouping reported by BitTorrent client
// libraries.
type Gauges struct {
	TotalPeers       int
	ConnectedSeeders int
	PiecesComplete   int
}

// SeederState reports whether p currently holds the full piece set, for use
// by [Aggregator.GaugesNow] callers that track per-peer bitfields. It is a
// parameter of GaugesNow rather than a Worker method because the Worker
// contract has no notion of piece completeness.
type SeederState func(peerset.Peer) bool

// GaugesNow computes a [Gauges] snapshot. isSeeder may be nil, in which
// case ConnectedSeeders is always 0.
func (a *Aggregator) GaugesNow(isSeeder SeederState) Gauges {
	peers := a.worker.Peers()
	g := Gauges{
		TotalPeers:     len(peers),
		PiecesComplete: a.PiecesTotal() - a.PiecesRemaining(),
	}
	if isSeeder != nil {
		for _, p := range peers {
			if isSeeder(p) {
				g.ConnectedSeeders++
			}
		}
	}
	return g
}
