// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package blockstream matches outbound block requests to their inbound
// piece replies, keyed by the (index, begin) pair a BitTorrent peer uses to
// address a block rather than by a random capability: unlike a general
// streaming RPC, a block request has exactly one reply, and the wire
// protocol already gives every request a natural, collision-free key
// against a single connection.
package blockstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/mtorrent/peerwire/message"
)

type key struct {
	index uint32
	begin uint32
}

// A Client matches outbound [message.Request] messages to their
// [message.Piece] replies for one connection. The zero value is not ready
// for use; construct one with [NewClient].
//
// Register [Client.Consumer] and [Client.Supplier] with a dispatcher for the
// peer this Client addresses, then call [Client.Fetch] from any goroutine to
// issue a request and wait for its reply.
type Client struct {
	mu      sync.Mutex
	pending map[key]chan fetchResult

	outbound chan *message.Message
}

type fetchResult struct {
	data []byte
	err  error
}

// NewClient constructs a Client whose outbound request queue holds up to
// queueLen pending requests before [Client.Fetch] blocks trying to enqueue
// another.
func NewClient(queueLen int) *Client {
	return &Client{
		pending:  make(map[key]chan fetchResult),
		outbound: make(chan *message.Message, queueLen),
	}
}

// Consumer returns a [message.Consumer] that resolves pending fetches as
// their replies arrive. Register it with [dispatch.Dispatcher.AddConsumer]
// for the connection this Client addresses.
func (c *Client) Consumer() message.Consumer {
	return func(m *message.Message) {
		if m.Kind != message.Piece {
			return
		}
		k := key{index: m.Index, begin: m.Begin}

		c.mu.Lock()
		ch, ok := c.pending[k]
		if ok {
			delete(c.pending, k)
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		ch <- fetchResult{data: m.Payload}
	}
}

// Supplier returns a [message.Supplier] that drains queued requests, one
// per poll. Register it with [dispatch.Dispatcher.AddSupplier] for the same
// connection as [Client.Consumer].
func (c *Client) Supplier() message.Supplier {
	return func() *message.Message {
		select {
		case m := <-c.outbound:
			return m
		default:
			return nil
		}
	}
}

// Fetch requests the block at (index, begin) of length length and blocks
// until the reply arrives or ctx ends. While the outbound queue is full,
// Fetch waits for room to enqueue the request.
//
// Only one Fetch for a given (index, begin) pair may be outstanding on a
// Client at a time; a second concurrent Fetch for the same pair replaces
// the first's pending entry, and the first's ctx.Done case (if reached
// first) returns ctx.Err() without affecting the second's delivery.
func (c *Client) Fetch(ctx context.Context, index, begin, length uint32) ([]byte, error) {
	k := key{index: index, begin: begin}
	ch := make(chan fetchResult, 1)

	c.mu.Lock()
	c.pending[k] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending[k] == ch {
			delete(c.pending, k)
		}
		c.mu.Unlock()
	}()

	req := &message.Message{Kind: message.Request, Index: index, Begin: begin, Length: length}
	select {
	case c.outbound <- req:
	case <-ctx.Done():
		return nil, fmt.Errorf("blockstream: enqueue request (index=%d, begin=%d): %w", index, begin, ctx.Err())
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel removes any pending fetch for (index, begin) from the queue table
// and posts a [message.Cancel] for it, mirroring the protocol's own cancel
// message for a request that's no longer wanted (the piece arrived from
// another peer first, for example). If the outbound queue is full, the
// pending fetch is still removed but no Cancel message is queued.
func (c *Client) Cancel(index, begin, length uint32) {
	k := key{index: index, begin: begin}
	c.mu.Lock()
	delete(c.pending, k)
	c.mu.Unlock()

	select {
	case c.outbound <- &message.Message{Kind: message.Cancel, Index: index, Begin: begin, Length: length}:
	default:
	}
}
