// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package dispatch

import "expvar"

// dispatchMetrics record dispatch loop activity counters.
type dispatchMetrics struct {
	iterations      expvar.Int
	messagesRead    expvar.Int
	consumerCalls   expvar.Int
	consumerErrors  expvar.Int
	suppliersPolled expvar.Int
	supplierErrors  expvar.Int
	messagesPosted  expvar.Int
	postErrors      expvar.Int
	readErrors      expvar.Int
	peersSkipped    expvar.Int // closed or not supported-and-active

	// byKind counts messages by direction and Kind, e.g. "in_have" or
	// "out_unchoke", for the peer-population observability surface
	// exposed by Dispatcher.Stats. Entries are created on first use.
	byKind *expvar.Map

	emap *expvar.Map
}

var rootMetrics = newDispatchMetrics()

func newDispatchMetrics() *dispatchMetrics {
	dm := &dispatchMetrics{emap: new(expvar.Map), byKind: new(expvar.Map)}
	dm.emap.Set("iterations", &dm.iterations)
	dm.emap.Set("messages_read", &dm.messagesRead)
	dm.emap.Set("consumer_calls", &dm.consumerCalls)
	dm.emap.Set("consumer_errors", &dm.consumerErrors)
	dm.emap.Set("suppliers_polled", &dm.suppliersPolled)
	dm.emap.Set("supplier_errors", &dm.supplierErrors)
	dm.emap.Set("messages_posted", &dm.messagesPosted)
	dm.emap.Set("post_errors", &dm.postErrors)
	dm.emap.Set("read_errors", &dm.readErrors)
	dm.emap.Set("peers_skipped", &dm.peersSkipped)
	dm.emap.Set("by_kind", dm.byKind)
	return dm
}
