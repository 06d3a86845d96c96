// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the single source of time for gamefleet.
//
// Heartbeats, correlation timeouts, reconnect backoff, health checks, and
// pool maintenance all read time through a [Clock] instead of calling the
// time package. Production code passes [Real]; tests pass a [FakeClock]
// from [Fake] and move time forward explicitly:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	manager := manager.New(manager.Options{Clock: fakeClock, ...})
//	fakeClock.WaitForTimers(1)          // the retry timer is registered
//	fakeClock.Advance(5 * time.Second)  // the retry fires, synchronously
//
// AfterFunc callbacks registered on a FakeClock run on the goroutine that
// calls Advance, in deadline order, so a test observes every side effect
// of a timer as soon as Advance returns.
package clock
