// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestLoopControlBackoffSequence(t *testing.T) {
	c := NewLoopControl(64 * time.Millisecond)
	ctx := context.Background()

	want := []time.Duration{1, 2, 4, 8, 16, 32, 64, 64, 64, 64}
	for i, w := range want {
		want[i] = w * time.Millisecond
	}

	var got []time.Duration
	for range want {
		got = append(got, c.CurrentSleep())
		if err := c.IterationFinished(ctx); err != nil {
			t.Fatalf("IterationFinished: %v", err)
		}
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoopControlResetsOnActivity(t *testing.T) {
	c := NewLoopControl(64 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.IterationFinished(ctx); err != nil {
			t.Fatalf("IterationFinished: %v", err)
		}
	}
	if got := c.CurrentSleep(); got != 8*time.Millisecond {
		t.Fatalf("CurrentSleep after 3 empty iterations: got %v, want 8ms", got)
	}

	c.IncrementProcessed()
	if err := c.IterationFinished(ctx); err != nil {
		t.Fatalf("IterationFinished: %v", err)
	}
	if got := c.CurrentSleep(); got != time.Millisecond {
		t.Errorf("CurrentSleep after activity: got %v, want 1ms", got)
	}
}

func TestLoopControlContextCancelDuringSleep(t *testing.T) {
	c := NewLoopControl(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.IterationFinished(ctx); err != context.Canceled {
		t.Errorf("IterationFinished with canceled ctx: got %v, want context.Canceled", err)
	}
}
