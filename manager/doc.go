// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager owns the connection to every registered game server
// and keeps it up.
//
// Each server has one entry with a state machine:
//
//	disconnected → connecting → connected
//	connected → switching → connected | error
//	any → error on a failed connect or health check
//	error → connecting when a scheduled retry fires
//
// [Manager.Establish] connects a server in its primary mode. When that
// fails and auto-switch is on, the manager walks the remaining modes in
// preference order, skipping modes without configuration and modes
// already tried in this cascade. When the cascade is exhausted it
// schedules a retry of the primary mode after an exponential backoff
// (interval × 2^retries, capped); each retry runs the same cascade.
// After MaxRetries consecutive failures the manager publishes
// connection_failed and stops. Any successful connect resets the
// counters.
//
// While connected, a recurring health check calls the adapter's
// IsHealthy. A failed check, or an adapter reporting that its
// connection dropped, tears the adapter down and starts a cascade from
// the mode after the failed one.
//
// A [Gate] installed with [Manager.SetGate] admits every connect
// before the adapter is built. A capacity refusal ends the cascade and
// falls through to the retry schedule.
//
// Establish on a server that gave up starts a new round of retries
// from the first.
//
// [Manager.SwitchMode] is the explicit operator command. It does not
// fall back: a failed switch leaves the entry in error with the cause
// recorded, and nothing retries it.
//
// Every adapter notification is re-published on the manager's hub along
// with the manager's own state_changed, mode_switching, mode_switched,
// reconnect_scheduled, and connection_failed notifications. Handlers
// registered with Handle run while the manager holds the server's lock
// and must not call back into the manager; use a Subscription to react
// to notifications with further manager calls.
package manager
