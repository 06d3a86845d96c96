// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter implements the connection adapters that talk to one game
// server each.
//
// Three transports are supported, one adapter type per transport:
//
//   - [BridgeAdapter] keeps a WebSocket open to a plugin running inside the
//     game server and exchanges protocol.Envelope frames. Commands are
//     correlated to responses by request id, a heartbeat measures latency,
//     and the plugin can push events and capability lists.
//   - [RCONAdapter] speaks the binary remote-console protocol over TCP:
//     login with a password, then command/response packets matched by id.
//   - [TerminalAdapter] spawns the server process and drives its stdin and
//     stdout. Commands are serialized and a command's output is whatever
//     the process prints until it goes quiet. Known console lines (player
//     joins, chat, startup, shutdown) become [ServerEvent] notifications.
//
// All three implement [Adapter]. An adapter belongs to exactly one server
// and one [Mode]; it is created disconnected, connected with a mode-specific
// [Config], and replaced rather than reused when the mode changes. Adapters
// never queue work while disconnected: SendCommand and SendMessage fail
// immediately with [ErrNotConnected]. Queueing is the pool's job.
//
// Every failed entry point increments the adapter's error counter,
// publishes an error [Notification], and returns the error. The one
// exception is a malformed inbound frame, which is counted and published
// but only drops that frame.
//
// Lifecycle and data notifications are published on the hub returned by
// Notifications. The connection manager subscribes to it to detect
// unexpected disconnects.
package adapter
