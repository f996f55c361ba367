// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package peerset_test

import (
	"sync"
	"testing"

	"github.com/mtorrent/peerwire/peerset"
)

func TestGetSetUpdate(t *testing.T) {
	r := peerset.NewRegistry[int]()
	p := peerset.Peer{ID: [20]byte{1}}

	if _, ok := r.Get(p); ok {
		t.Fatal("Get on empty registry: got ok=true, want false")
	}

	r.Set(p, 3)
	if v, ok := r.Get(p); !ok || v != 3 {
		t.Errorf("Get after Set: got (%d, %v), want (3, true)", v, ok)
	}

	r.Update(p, func(v int) int { return v + 1 })
	if v, _ := r.Get(p); v != 4 {
		t.Errorf("Get after Update: got %d, want 4", v)
	}
}

func TestUpdateOnAbsentKeyUsesZeroValue(t *testing.T) {
	r := peerset.NewRegistry[[]string]()
	p := peerset.Peer{ID: [20]byte{2}}

	r.Update(p, func(v []string) []string { return append(v, "x") })
	got, ok := r.Get(p)
	if !ok || len(got) != 1 || got[0] != "x" {
		t.Errorf("Get: got (%v, %v), want ([x], true)", got, ok)
	}
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	r := peerset.NewRegistry[int]()
	p1, p2 := peerset.Peer{ID: [20]byte{1}}, peerset.Peer{ID: [20]byte{2}}
	r.Set(p1, 1)

	snap := r.Snapshot()
	r.Set(p2, 2)

	if _, ok := snap[p2]; ok {
		t.Error("Snapshot observed a key set after it was taken")
	}
	if len(snap) != 1 || snap[p1] != 1 {
		t.Errorf("Snapshot: got %v, want {p1: 1}", snap)
	}
	if r.Len() != 2 {
		t.Errorf("Len after second Set: got %d, want 2", r.Len())
	}
}

func TestPeersReportsAllRegistered(t *testing.T) {
	r := peerset.NewRegistry[int]()
	want := map[peerset.Peer]bool{
		{ID: [20]byte{1}}: true,
		{ID: [20]byte{2}}: true,
		{ID: [20]byte{3}}: true,
	}
	for p := range want {
		r.Set(p, 0)
	}

	got := r.Peers()
	if len(got) != len(want) {
		t.Fatalf("Peers: got %d entries, want %d", len(got), len(want))
	}
	for _, p := range got {
		if !want[p] {
			t.Errorf("Peers returned unexpected peer %v", p)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := peerset.NewRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := peerset.Peer{ID: [20]byte{byte(i)}}
			r.Set(p, i)
			r.Update(p, func(v int) int { return v + 1 })
			r.Get(p)
			r.Snapshot()
		}(i)
	}
	wg.Wait()
	if r.Len() != 50 {
		t.Errorf("Len after concurrent inserts: got %d, want 50", r.Len())
	}
}

func TestPeerAndTorrentIDString(t *testing.T) {
	p := peerset.Peer{ID: [20]byte{0xde, 0xad, 0xbe, 0xef}, Addr: "10.0.0.1:6881"}
	if got := p.String(); got != "deadbeef@10.0.0.1:6881" {
		t.Errorf("Peer.String: got %q, want %q", got, "deadbeef@10.0.0.1:6881")
	}

	p2 := peerset.Peer{ID: [20]byte{0xde, 0xad, 0xbe, 0xef}}
	if got := p2.String(); got != "deadbeef" {
		t.Errorf("Peer.String without addr: got %q, want %q", got, "deadbeef")
	}

	tid := peerset.TorrentID{0xfe, 0xed, 0xfa, 0xce}
	if got := tid.String(); got != "feedface" {
		t.Errorf("TorrentID.String: got %q, want %q", got, "feedface")
	}
}
