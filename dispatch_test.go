// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package dispatch_test

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/mtorrent/peerwire"
	"github.com/mtorrent/peerwire/connpool"
	"github.com/mtorrent/peerwire/message"
	"github.com/mtorrent/peerwire/peerset"
)

// fakeRegistry reports a fixed answer for IsSupportedAndActive, mutable
// between checks so tests can flip a torrent active/inactive mid-run.
type fakeRegistry struct {
	mu     sync.Mutex
	active map[peerset.TorrentID]bool
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{active: make(map[peerset.TorrentID]bool)} }

func (r *fakeRegistry) setActive(t peerset.TorrentID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[t] = ok
}

func (r *fakeRegistry) IsSupportedAndActive(t peerset.TorrentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[t]
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not satisfied before timeout")
	}
}

func newTestDispatcher(t *testing.T, pool *connpool.Pool, reg dispatch.TorrentRegistry, maxSleep time.Duration) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.New(pool, reg, dispatch.Config{MaxMessageProcessingInterval: maxSleep})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	return d
}

// TestFanOut is scenario S1: every consumer registered for a peer sees
// every message read from that peer's connection, in order.
func TestFanOut(t *testing.T) {
	defer leaktest.Check(t)()

	tid := peerset.TorrentID{1}
	peer := peerset.Peer{ID: [20]byte{1}}
	pool := connpool.NewPool()
	conn := connpool.NewConn(tid, 4, 4)
	pool.AddIfAbsent(peer, conn)

	reg := newFakeRegistry()
	reg.setActive(tid, true)

	d := newTestDispatcher(t, pool, reg, 4*time.Millisecond)

	var mu sync.Mutex
	var gotA, gotB []*message.Message
	d.AddConsumer(peer, func(m *message.Message) {
		mu.Lock()
		gotA = append(gotA, m)
		mu.Unlock()
	})
	d.AddConsumer(peer, func(m *message.Message) {
		mu.Lock()
		gotB = append(gotB, m)
		mu.Unlock()
	})
	d.Start()
	defer d.Stop()

	m1 := &message.Message{Kind: message.Have, Index: 1}
	m2 := &message.Message{Kind: message.Have, Index: 2}
	conn.Deliver(m1)
	conn.Deliver(m2)

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 2 && len(gotB) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if gotA[0] != m1 || gotA[1] != m2 || gotB[0] != m1 || gotB[1] != m2 {
		t.Errorf("fan-out mismatch: A=%v B=%v", gotA, gotB)
	}
}

// TestConsumerFaultContainment is scenario S2: a panicking consumer must not
// block delivery to its siblings or to later messages.
func TestConsumerFaultContainment(t *testing.T) {
	defer leaktest.Check(t)()

	tid := peerset.TorrentID{2}
	peer := peerset.Peer{ID: [20]byte{2}}
	pool := connpool.NewPool()
	conn := connpool.NewConn(tid, 4, 4)
	pool.AddIfAbsent(peer, conn)

	reg := newFakeRegistry()
	reg.setActive(tid, true)

	d := newTestDispatcher(t, pool, reg, 4*time.Millisecond)

	var mu sync.Mutex
	var seen []*message.Message
	d.AddConsumer(peer, func(m *message.Message) { panic("always fails") })
	d.AddConsumer(peer, func(m *message.Message) {
		mu.Lock()
		seen = append(seen, m)
		mu.Unlock()
	})
	d.Start()
	defer d.Stop()

	m1 := &message.Message{Kind: message.Have, Index: 1}
	conn.Deliver(m1)
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})

	m2 := &message.Message{Kind: message.Have, Index: 2}
	conn.Deliver(m2)
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != m1 || seen[1] != m2 {
		t.Errorf("isolation failure: got %v, want [%v %v]", seen, m1, m2)
	}
}

// TestInactiveTorrentFiltered is scenario S5: a connection whose torrent is
// not supported-and-active is skipped entirely, and its connection is never
// even read from.
func TestInactiveTorrentFiltered(t *testing.T) {
	defer leaktest.Check(t)()

	tid := peerset.TorrentID{3}
	peer := peerset.Peer{ID: [20]byte{3}}
	pool := connpool.NewPool()
	conn := connpool.NewConn(tid, 4, 4)
	pool.AddIfAbsent(peer, conn)

	reg := newFakeRegistry() // inactive by default

	d := newTestDispatcher(t, pool, reg, 4*time.Millisecond)

	var mu sync.Mutex
	var calls int
	d.AddConsumer(peer, func(m *message.Message) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	d.Start()
	defer d.Stop()

	conn.Deliver(&message.Message{Kind: message.Have, Index: 1})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("consumer invoked %d times for an inactive torrent, want 0", calls)
	}
	if m, err := conn.ReadMessageNow(); err != nil || m == nil {
		t.Fatalf("conn should still hold its undelivered message: got (%v, %v)", m, err)
	}
}

// TestClosedConnectionFiltered is invariant 4: no callbacks fire for a
// closed connection.
func TestClosedConnectionFiltered(t *testing.T) {
	defer leaktest.Check(t)()

	tid := peerset.TorrentID{4}
	peer := peerset.Peer{ID: [20]byte{4}}
	pool := connpool.NewPool()
	conn := connpool.NewConn(tid, 4, 4)
	pool.AddIfAbsent(peer, conn)
	conn.Close()

	reg := newFakeRegistry()
	reg.setActive(tid, true)

	d := newTestDispatcher(t, pool, reg, 4*time.Millisecond)

	var calls int
	var mu sync.Mutex
	d.AddSupplier(peer, func() *message.Message {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	d.Start()
	defer d.Stop()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("supplier polled %d times for a closed connection, want 0", calls)
	}
}

// TestOutboundSupplierPosts exercises the outbound phase end to end: a
// registered supplier's message is posted to the connection.
func TestOutboundSupplierPosts(t *testing.T) {
	defer leaktest.Check(t)()

	tid := peerset.TorrentID{5}
	peer := peerset.Peer{ID: [20]byte{5}}
	pool := connpool.NewPool()
	conn := connpool.NewConn(tid, 4, 4)
	pool.AddIfAbsent(peer, conn)

	reg := newFakeRegistry()
	reg.setActive(tid, true)

	d := newTestDispatcher(t, pool, reg, 4*time.Millisecond)

	want := &message.Message{Kind: message.Unchoke}
	var polled int
	var mu sync.Mutex
	d.AddSupplier(peer, func() *message.Message {
		mu.Lock()
		defer mu.Unlock()
		if polled == 0 {
			polled++
			return want
		}
		return nil
	})
	d.Start()
	defer d.Stop()

	select {
	case got := <-conn.Outbound():
		if got != want {
			t.Errorf("posted message: got %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for supplier's message to post")
	}
}

// TestStopIsGraceful is scenario S6: Stop must return promptly even while
// the loop is in a long backoff sleep, and no callback fires afterward.
func TestStopIsGraceful(t *testing.T) {
	defer leaktest.Check(t)()

	tid := peerset.TorrentID{6}
	peer := peerset.Peer{ID: [20]byte{6}}
	pool := connpool.NewPool()
	conn := connpool.NewConn(tid, 4, 4)
	pool.AddIfAbsent(peer, conn)

	reg := newFakeRegistry()
	reg.setActive(tid, true)

	d := newTestDispatcher(t, pool, reg, time.Hour) // deliberately huge ceiling
	d.Start()

	// Let the loop reach its first sleep before stopping.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly while the loop was sleeping")
	}

	var calls int
	var mu sync.Mutex
	d.AddConsumer(peer, func(m *message.Message) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	conn.Deliver(&message.Message{Kind: message.Have, Index: 1})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("consumer invoked %d times after Stop, want 0", calls)
	}
}
