// Package peerset defines the peer and torrent identity types shared by the
// dispatch, aggregator, and connpool packages, along with a small
// concurrency-safe registry used to hold per-peer values.
package peerset

import (
	"fmt"
	"maps"
	"sync"
)

// A Peer is an opaque identity for one remote participant on one transport
// connection. Equality and hashing are the zero-value struct comparison;
// callers are responsible for constructing Peer values that compare equal
// exactly when the underlying remote endpoint is the same.
type Peer struct {
	ID   [20]byte // BitTorrent peer ID
	Addr string   // dotted network address; shown in logs and part of equality
}

// String renders p for logs. It is not a wire format.
func (p Peer) String() string {
	if p.Addr != "" {
		return fmt.Sprintf("%x@%s", p.ID[:4], p.Addr)
	}
	return fmt.Sprintf("%x", p.ID[:4])
}

// A TorrentID is a stable handle identifying a torrent, typically its
// info-hash.
type TorrentID [20]byte

// String renders t for logs.
func (t TorrentID) String() string { return fmt.Sprintf("%x", t[:4]) }

// A Registry holds a mapping from Peer to a value of type T, safe for
// concurrent reads and writes. It does not support removal: callers that
// need removal semantics (none of the types in this module do) must build it
// on top by storing a pointer and mutating through it.
type Registry[T any] struct {
	mu sync.RWMutex
	m  map[Peer]T
}

// NewRegistry constructs an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{m: make(map[Peer]T)}
}

// Get reports the value registered for p, if any.
func (r *Registry[T]) Get(p Peer) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[p]
	return v, ok
}

// Set stores v for p, replacing any previous value.
func (r *Registry[T]) Set(p Peer, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p] = v
}

// Update applies f to the current value registered for p (the zero value of
// T if none is registered) and stores the result.
func (r *Registry[T]) Update(p Peer, f func(T) T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p] = f(r.m[p])
}

// Snapshot returns a point-in-time copy of the registry contents, safe for
// the caller to range over without holding any lock. This is the mechanism
// that makes registry traversal "snapshot-safe" in the face of concurrent
// Set/Update calls from other goroutines, per the dispatch loop's iteration
// contract.
func (r *Registry[T]) Snapshot() map[Peer]T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.m)
}

// Len reports the number of entries currently registered.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Peers reports the set of peers currently registered, in no particular
// order.
func (r *Registry[T]) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.m))
	for p := range r.m {
		out = append(out, p)
	}
	return out
}
