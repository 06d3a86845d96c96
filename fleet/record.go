// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"strconv"
	"strings"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/journal"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/pool"
)

// Journal sources.
const (
	SourceManager = "manager"
	SourcePool    = "pool"
)

const recorderBuffer = 256

// startRecorders subscribes the journal to both hubs. Subscriptions
// rather than handlers keep file writes off the publishers' goroutines.
func (f *Fleet) startRecorders() {
	managerEvents := f.manager.Notifications().Subscribe(recorderBuffer, journaled)
	poolEvents := f.pool.Notifications().Subscribe(recorderBuffer, func(n pool.Notification) bool {
		return n.Kind != pool.NotifyStatsUpdated
	})
	f.recorders.Add(2)
	go func() {
		defer f.recorders.Done()
		record(f, managerEvents, managerRecord)
	}()
	go func() {
		defer f.recorders.Done()
		record(f, poolEvents, poolRecord)
	}()
}

func record[T any](f *Fleet, subscription *notify.Subscription[T], convert func(T) journal.Record) {
	for notification := range subscription.C() {
		if err := f.journal.Append(convert(notification)); err != nil {
			f.logger.Warn("journal append failed", "error", err)
		}
	}
	if dropped := subscription.Dropped(); dropped > 0 {
		f.logger.Warn("journal missed notifications", "dropped", dropped)
	}
}

// journaled selects lifecycle notifications. Console traffic is left to
// the adapters' own subscribers.
func journaled(n adapter.Notification) bool {
	switch n.Kind {
	case adapter.NotifyMessage, adapter.NotifyEvent, adapter.NotifyLog:
		return false
	}
	return true
}

func managerRecord(n adapter.Notification) journal.Record {
	entry := journal.Record{
		Timestamp: n.Time.UnixNano(),
		Source:    SourceManager,
		Kind:      string(n.Kind),
		Server:    n.Server,
		Mode:      string(n.Mode),
	}
	detail := map[string]string{}
	if n.State != "" {
		detail["state"] = n.State
	}
	if n.PreviousMode != "" {
		detail["previous_mode"] = string(n.PreviousMode)
	}
	if n.RetryIn > 0 {
		detail["retry_in"] = n.RetryIn.String()
	}
	if n.Attempt > 0 {
		detail["attempt"] = strconv.Itoa(n.Attempt)
	}
	if n.Kind == adapter.NotifyDisconnected {
		detail["code"] = strconv.Itoa(n.Code)
		detail["local"] = strconv.FormatBool(n.Local)
	}
	if n.Reason != "" {
		detail["reason"] = n.Reason
	}
	if len(n.Capabilities) > 0 {
		detail["capabilities"] = strings.Join(n.Capabilities, ",")
	}
	if event := n.Event; event != nil {
		detail["event"] = string(event.Kind)
		if event.Player != "" {
			detail["player"] = event.Player
		}
		if event.Message != "" {
			detail["message"] = event.Message
		}
		if event.StartupTime > 0 {
			detail["startup_time"] = event.StartupTime.String()
		}
	}
	if len(detail) > 0 {
		entry.Detail = detail
	}
	if n.Err != nil {
		entry.Error = n.Err.Error()
	}
	return entry
}

func poolRecord(n pool.Notification) journal.Record {
	entry := journal.Record{
		Timestamp: n.Time.UnixNano(),
		Source:    SourcePool,
		Kind:      string(n.Kind),
		Server:    n.Server,
		Mode:      string(n.Mode),
	}
	if n.Reason != "" {
		entry.Detail = map[string]string{"reason": n.Reason}
	}
	return entry
}
