// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at start.
func Fake(start time.Time) *FakeClock {
	fake := &FakeClock{now: start}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a Clock whose time moves only on Advance. It is safe for
// concurrent use. Callbacks must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*scheduled
	changed *sync.Cond
}

// scheduled is one registered timer, ticker, or sleep.
type scheduled struct {
	deadline time.Time
	period   time.Duration // non-zero for tickers
	channel  chan time.Time
	callback func()
	stopped  bool
	fired    bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&scheduled{deadline: c.now.Add(d), channel: channel})
	return channel
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	entry := &scheduled{deadline: c.now.Add(d), callback: f}
	c.addLocked(entry)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if entry.stopped || entry.fired {
				return false
			}
			entry.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !entry.stopped && !entry.fired
			entry.deadline = c.now.Add(d)
			entry.stopped = false
			entry.fired = false
			c.ensureLocked(entry)
			return active
		},
	}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	entry := &scheduled{deadline: c.now.Add(d), period: d, channel: channel}
	c.addLocked(entry)

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.stopped = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.period = d
			entry.deadline = c.now.Add(d)
			entry.stopped = false
			c.ensureLocked(entry)
		},
	}
}

func (c *FakeClock) Sleep(d time.Duration) {
	if d > 0 {
		<-c.After(d)
	}
}

// Advance moves time forward by d and fires everything whose deadline
// is reached, earliest first. Tickers fire once per elapsed period.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, entry := range due {
			if entry.callback != nil {
				entry.callback()
				continue
			}
			select {
			case entry.channel <- target:
			default:
			}
		}
	}
}

// takeDue removes due one-shot entries, reschedules due tickers, and
// returns what must fire, sorted by deadline.
func (c *FakeClock) takeDue(target time.Time) []*scheduled {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, kept []*scheduled
	for _, entry := range c.pending {
		switch {
		case entry.stopped:
		case entry.deadline.After(target):
			kept = append(kept, entry)
		default:
			due = append(due, entry)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, entry := range due {
		if entry.period > 0 {
			entry.deadline = entry.deadline.Add(entry.period)
			kept = append(kept, entry)
		} else {
			entry.fired = true
		}
	}
	c.pending = kept
	return due
}

// WaitForTimers blocks until at least n timers, tickers, or sleeps are
// pending. Use it before Advance to avoid racing the goroutine that
// registers the timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers, tickers, and sleeps that
// have not fired or been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) addLocked(entry *scheduled) {
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

// ensureLocked re-registers an entry that Advance already swept.
func (c *FakeClock) ensureLocked(entry *scheduled) {
	for _, existing := range c.pending {
		if existing == entry {
			c.changed.Broadcast()
			return
		}
	}
	c.addLocked(entry)
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, entry := range c.pending {
		if !entry.stopped {
			count++
		}
	}
	return count
}
