// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	want := epoch.Add(5 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfterPartialAdvance(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(5 * time.Second)

	clock.Advance(3 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before deadline")
	default:
	}

	clock.Advance(2 * time.Second)
	select {
	case <-channel:
	default:
		t.Fatal("After did not fire at exact deadline")
	}
	if clock.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0", clock.PendingCount())
	}
}

func TestFakeClockAfterNonPositive(t *testing.T) {
	clock := Fake(epoch)
	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
	if waits := clock.Waits(); len(waits) != 0 {
		t.Fatalf("Waits() = %v, want none recorded for zero duration", waits)
	}
}

func TestFakeClockWaitsRecordsSchedule(t *testing.T) {
	clock := Fake(epoch)
	clock.After(time.Second)
	clock.After(2 * time.Second)

	waits := clock.Waits()
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Fatalf("Waits() = %v, want [1s 2s]", waits)
	}
}

func TestWaitReturnsAfterAdvance(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan error, 1)
	go func() { done <- Wait(context.Background(), clock, time.Second) }()

	clock.WaitForTimers(1)
	clock.Advance(time.Second)

	if err := <-done; err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	clock := Fake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Wait(ctx, clock, time.Hour) }()

	clock.WaitForTimers(1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want context.Canceled", err)
	}
}
