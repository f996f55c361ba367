// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package dispatch implements the peer messaging core of a BitTorrent
// client.
//
// For each connected remote peer, a single dispatch loop drains inbound
// protocol messages from the transport and fans each one out to every
// in-process consumer registered for that peer, then polls every registered
// supplier and posts whatever it produces back to the peer. The loop is
// single-threaded and cooperative: all reads, consumer calls, supplier
// calls, and posts for every peer run on one goroutine and serialize with
// one another. Neither a consumer nor a supplier may block on network I/O
// or long computation without stalling every other peer — this is a
// documented precondition, not something the package enforces.
//
// The connection pool and the torrent registry are external collaborators,
// named here only by the contracts this package calls: [ConnectionPool] and
// [TorrentRegistry]. A peer's per-connection transfer counters are a
// separate collaborator, [aggregator.Worker], consumed only by the
// aggregator package, not by the dispatch loop itself.
//
// # Dispatcher
//
// The core type is [Dispatcher]. Construct one with [New], over a
// [ConnectionPool] and a [TorrentRegistry]:
//
//	d, err := dispatch.New(pool, registry, dispatch.DefaultConfig())
//
// Call [Dispatcher.Start] to launch the loop goroutine:
//
//	d.Start()
//
// The loop runs until [Dispatcher.Stop] is called:
//
//	d.Stop()
//
// # Registration
//
// Use [Dispatcher.AddConsumer] to receive every subsequent message read
// from a peer, and [Dispatcher.AddSupplier] to have a callback polled once
// per iteration while a peer is connected:
//
//	d.AddConsumer(peer, func(m *message.Message) {
//		if m.Kind == message.Have {
//			pieceMap.MarkHave(peer, m.Index)
//		}
//	})
//
//	d.AddSupplier(peer, func() *message.Message {
//		return choker.NextMessage(peer)
//	})
//
// There is no remove: a consumer or supplier stays registered until the
// dispatcher shuts down. Removal on connection close is the responsibility
// of the registrant, since the dispatcher has no notion of when a
// registrant is done with a peer.
//
// # Backoff
//
// [LoopControl] implements the loop's adaptive sleep: an empty iteration
// doubles the sleep duration up to a configured ceiling
// (Config.MaxMessageProcessingInterval), and any iteration that moves at
// least one message resets it to 1ms. The dispatcher owns one LoopControl
// internally; it is exposed as its own type mainly for testability.
//
// # Metrics
//
// Dispatchers maintain a collection of counters while running. Use the
// [Dispatcher.Metrics] method to obtain an [expvar.Map] containing the
// metrics exported by the dispatcher. By default, metrics are shared
// globally among all dispatchers in a process, mirroring the convention
// this package's teacher uses for RPC peer metrics. [Dispatcher.Stats]
// exposes a second map breaking message counts down by direction and
// [message.Kind], for peer population observability.
package dispatch
