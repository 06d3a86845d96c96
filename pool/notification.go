// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"time"

	"github.com/bureau-foundation/gamefleet/adapter"
)

// NotificationKind identifies a pool notification.
type NotificationKind string

const (
	NotifyConnectionCreated NotificationKind = "connection_created"
	NotifyConnectionEvicted NotificationKind = "connection_evicted"
	NotifyStatsUpdated      NotificationKind = "stats_updated"
)

// Eviction reasons carried in Notification.Reason.
const (
	ReasonCapacity     = "capacity"
	ReasonIdle         = "idle"
	ReasonLifetime     = "lifetime"
	ReasonUnhealthy    = "unhealthy"
	ReasonDisconnected = "disconnected"
	ReasonClosed       = "pool closed"
)

// Notification is published on the pool's hub.
type Notification struct {
	Kind   NotificationKind
	Server string
	Mode   adapter.Mode
	Time   time.Time
	// Reason is set on connection_evicted.
	Reason string
	// Stats is set on stats_updated.
	Stats *Stats
}
