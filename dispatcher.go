// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package dispatch

import (
	"context"
	"expvar"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/sirupsen/logrus"

	"github.com/mtorrent/peerwire/message"
	"github.com/mtorrent/peerwire/peerset"
)

// A Dispatcher owns the per-peer consumer and supplier registries and the
// single dispatch loop that drains and fills them. A zero-valued Dispatcher
// is not ready for use; construct one with [New].
//
// Call [Dispatcher.Start] to launch the loop goroutine. Once started, the
// dispatcher runs until [Dispatcher.Stop] is called. Use [Dispatcher.AddConsumer]
// and [Dispatcher.AddSupplier] to register callbacks; both are safe for
// concurrent use by multiple goroutines, including while the loop is
// running.
type Dispatcher struct {
	pool     ConnectionPool
	registry TorrentRegistry

	consumers *peerset.Registry[[]message.Consumer]
	suppliers *peerset.Registry[[]message.Supplier]

	loopCtl *LoopControl
	log     *logrus.Logger
	metrics *dispatchMetrics

	mu     sync.Mutex
	cancel context.CancelFunc
	tasks  *taskgroup.Group
}

// New constructs an unstarted Dispatcher over pool and registry. It reports
// an error if cfg is invalid.
func New(pool ConnectionPool, registry TorrentRegistry, cfg Config) (*Dispatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		pool:      pool,
		registry:  registry,
		consumers: peerset.NewRegistry[[]message.Consumer](),
		suppliers: peerset.NewRegistry[[]message.Supplier](),
		loopCtl:   NewLoopControl(cfg.MaxMessageProcessingInterval),
		log:       cfg.logger(),
		metrics:   rootMetrics,
	}, nil
}

// AddConsumer registers consumer to receive every subsequent message
// decoded from peer. There is no remove: removal on connection close is the
// responsibility of the registrant, per this package's scope.
func (d *Dispatcher) AddConsumer(peer peerset.Peer, consumer message.Consumer) {
	d.consumers.Update(peer, func(cs []message.Consumer) []message.Consumer {
		return append(cs, consumer)
	})
}

// AddSupplier registers supplier to be polled once per iteration while peer
// is connected.
func (d *Dispatcher) AddSupplier(peer peerset.Peer, supplier message.Supplier) {
	d.suppliers.Update(peer, func(ss []message.Supplier) []message.Supplier {
		return append(ss, supplier)
	})
}

// Metrics returns a metrics map for the dispatcher. It is safe for the
// caller to add additional metrics to the map.
func (d *Dispatcher) Metrics() *expvar.Map { return d.metrics.emap }

// Stats returns a map of per-Kind message counts, keyed "in_<kind>" for
// messages fanned out to consumers and "out_<kind>" for messages posted
// from suppliers. This is read-only observability layered on top of the
// dispatch loop; it does not affect dispatch behavior.
func (d *Dispatcher) Stats() *expvar.Map { return d.metrics.byKind }

// Start launches the dispatch loop in its own goroutine and returns d to
// permit chaining. Start does not block; Start panics if d is already
// started.
func (d *Dispatcher) Start() *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		panic("dispatcher is already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.tasks = taskgroup.New(nil)
	d.tasks.Go(func() error { return d.run(ctx) })
	return d
}

// Stop signals the loop to exit and blocks until it has. This corresponds
// to the "set shutdown flag, then forcibly terminate" lifecycle: canceling
// the loop's context unblocks any in-flight sleep immediately, and the loop
// exits at the next check rather than completing another iteration. Stop is
// a no-op if the dispatcher was never started.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, tasks := d.cancel, d.tasks
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	tasks.Wait()
}

// run is the dispatch loop body. It runs on its own goroutine from Start
// until ctx ends.
func (d *Dispatcher) run(ctx context.Context) error {
	for ctx.Err() == nil {
		d.inboundPhase()
		d.outboundPhase()
		d.metrics.iterations.Add(1)

		if err := d.loopCtl.IterationFinished(ctx); err != nil {
			// ctx ended while sleeping: graceful shutdown, not a failure.
			return nil
		}
	}
	return nil
}

// resolveConnection applies the closed and supported-and-active filters
// common to both phases, and records a skip in the metrics when either
// filter excludes the peer for this iteration.
func (d *Dispatcher) resolveConnection(peer peerset.Peer) (PeerConnection, bool) {
	conn, ok := d.pool.Get(peer)
	if !ok || conn.IsClosed() {
		d.metrics.peersSkipped.Add(1)
		return nil, false
	}
	if !d.registry.IsSupportedAndActive(conn.TorrentID()) {
		d.metrics.peersSkipped.Add(1)
		return nil, false
	}
	return conn, true
}

// inboundPhase drains every connection registered on the consumer side and
// fans each decoded message out to all of that peer's consumers.
func (d *Dispatcher) inboundPhase() {
	for peer, consumers := range d.consumers.Snapshot() {
		conn, ok := d.resolveConnection(peer)
		if !ok {
			continue
		}

		for {
			msg, err := conn.ReadMessageNow()
			if err != nil {
				d.metrics.readErrors.Add(1)
				d.log.WithFields(logrus.Fields{
					"peer":    peer,
					"torrent": conn.TorrentID(),
				}).Errorf("dispatch: read message: %v", err)
				break
			}
			if msg == nil {
				break
			}

			d.metrics.messagesRead.Add(1)
			d.metrics.byKind.Add("in_"+msg.Kind.String(), 1)
			d.loopCtl.IncrementProcessed()
			for _, c := range consumers {
				d.invokeConsumer(c, msg, peer)
			}
		}
	}
}

// outboundPhase polls every supplier registered for a connected peer once,
// in order, and posts whatever it produces.
func (d *Dispatcher) outboundPhase() {
	for peer, suppliers := range d.suppliers.Snapshot() {
		conn, ok := d.resolveConnection(peer)
		if !ok {
			continue
		}

		for _, s := range suppliers {
			msg := d.invokeSupplier(s, peer)
			if msg == nil {
				continue
			}

			d.loopCtl.IncrementProcessed()
			if err := conn.PostMessage(msg); err != nil {
				d.metrics.postErrors.Add(1)
				d.log.WithFields(logrus.Fields{
					"peer":    peer,
					"torrent": conn.TorrentID(),
				}).Errorf("dispatch: post message: %v", err)
				continue
			}
			d.metrics.messagesPosted.Add(1)
			d.metrics.byKind.Add("out_"+msg.Kind.String(), 1)
		}
	}
}

// invokeConsumer calls c with m, recovering any panic and treating it as a
// logged, swallowed consumer fault: it must not prevent delivery to the
// next consumer or the next message.
func (d *Dispatcher) invokeConsumer(c message.Consumer, m *message.Message, peer peerset.Peer) {
	d.metrics.consumerCalls.Add(1)
	defer func() {
		if r := recover(); r != nil {
			d.metrics.consumerErrors.Add(1)
			d.log.WithFields(logrus.Fields{"peer": peer}).Warnf("dispatch: consumer panicked (recovered): %v", r)
		}
	}()
	c(m)
}

// invokeSupplier polls s, recovering any panic and treating it as a logged,
// swallowed supplier fault: it must not prevent the next supplier from
// running.
func (d *Dispatcher) invokeSupplier(s message.Supplier, peer peerset.Peer) (m *message.Message) {
	d.metrics.suppliersPolled.Add(1)
	defer func() {
		if r := recover(); r != nil {
			m = nil
			d.metrics.supplierErrors.Add(1)
			d.log.WithFields(logrus.Fields{"peer": peer}).Warnf("dispatch: supplier panicked (recovered): %v", r)
		}
	}()
	return s()
}
