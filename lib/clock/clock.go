// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by connection code.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After delivers the time on the returned channel once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels
	// the call. Its C field is nil.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks for d.
	Sleep(d time.Duration)
}

// Timer is a cancellable scheduled call.
type Timer struct {
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the timer. It reports whether the call prevented the
// timer from firing.
func (t *Timer) Stop() bool { return t.stop() }

// Reset reschedules the timer to fire d from now. It reports whether
// the timer was still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }

// Ticker delivers periodic ticks on C. C has capacity 1; ticks are
// dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop halts the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the tick interval and restarts the period.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }
