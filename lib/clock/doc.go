// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that retry
// backoff, job polling, and timestamps can be driven deterministically
// in tests.
//
// Production code holds a Clock and calls [Wait] (or Clock.After inside
// its own select) instead of time.Sleep. Tests inject [Fake] and move
// time forward explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go synchronizer.Sync(ctx, request)
//	c.WaitForTimers(1)      // the retry loop is now sleeping
//	c.Advance(time.Second)  // release it
package clock
