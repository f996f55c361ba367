// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/creachadair/mds/value"
)

// minSleep is the sleep duration the loop resets to whenever any message
// moved during the previous iteration, and the floor of the backoff curve.
const minSleep = 1 * time.Millisecond

// A LoopControl implements the dispatch loop's adaptive backoff: it
// minimizes idle CPU while preserving responsiveness when traffic resumes.
//
// If any message moved during an iteration, the next iteration runs
// immediately and the sleep resets to [minSleep]. Otherwise the loop sleeps
// for the current duration, then doubles it, clamped to maxSleep.
//
// The zero value is not ready for use; construct one with [NewLoopControl].
type LoopControl struct {
	maxSleep time.Duration

	mu        sync.Mutex
	current   time.Duration
	processed int
}

// NewLoopControl constructs a LoopControl whose sleep is capped at maxSleep.
// maxSleep must be positive; NewLoopControl clamps it to at least minSleep.
func NewLoopControl(maxSleep time.Duration) *LoopControl {
	return &LoopControl{
		maxSleep: max(maxSleep, minSleep),
		current:  minSleep,
	}
}

// IncrementProcessed records that a message moved (read and delivered, or
// supplied and posted) during the current iteration. It is safe to call
// from the loop goroutine only; there is exactly one caller.
func (c *LoopControl) IncrementProcessed() {
	c.mu.Lock()
	c.processed++
	c.mu.Unlock()
}

// CurrentSleep reports the sleep duration that the next empty iteration
// would use, for diagnostics and tests.
func (c *LoopControl) CurrentSleep() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// IterationFinished is the end-of-iteration barrier. If the current
// iteration processed at least one message, it resets the backoff and
// returns immediately. Otherwise it blocks for the current sleep duration
// (or until ctx is done, whichever comes first) and then doubles the sleep,
// clamped to maxSleep.
//
// IterationFinished returns ctx.Err() if ctx ended while sleeping; the
// caller (the dispatch loop) treats that as a graceful shutdown request, not
// a failure. It never returns any other error: a context-based wait has no
// "spurious interruption" failure mode for this implementation to surface.
func (c *LoopControl) IterationFinished(ctx context.Context) error {
	c.mu.Lock()
	processed := c.processed
	c.processed = 0
	if processed > 0 {
		c.current = minSleep
		c.mu.Unlock()
		return nil
	}
	sleep := c.current
	c.mu.Unlock()

	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.current = value.Cond(c.current*2 > c.maxSleep, c.maxSleep, c.current*2)
	c.mu.Unlock()
	return nil
}
