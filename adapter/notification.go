// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"time"

	"github.com/bureau-foundation/gamefleet/protocol"
)

// NotificationKind identifies what a Notification reports.
type NotificationKind string

// Adapter notifications.
const (
	NotifyConnected    NotificationKind = "connected"
	NotifyDisconnected NotificationKind = "disconnected"
	NotifyError        NotificationKind = "error"
	// NotifyMessage carries every envelope decoded from the bridge.
	NotifyMessage NotificationKind = "message"
	// NotifyEvent carries bridge event envelopes.
	NotifyEvent NotificationKind = "event"
	// NotifyLog carries one line of terminal output.
	NotifyLog NotificationKind = "log"
	// NotifyServerEvent carries a ServerEvent recognized in terminal
	// output.
	NotifyServerEvent  NotificationKind = "server_event"
	NotifyCapabilities NotificationKind = "capabilities"
	// NotifyRemoteDisconnect reports that the bridge plugin announced it
	// is going away. The socket close that follows produces a separate
	// NotifyDisconnected.
	NotifyRemoteDisconnect NotificationKind = "remote_disconnect"
)

// Connection manager notifications. They share the Notification type so
// a single subscription sees both.
const (
	NotifyStateChanged       NotificationKind = "state_changed"
	NotifyModeSwitching      NotificationKind = "mode_switching"
	NotifyModeSwitched       NotificationKind = "mode_switched"
	NotifyReconnectScheduled NotificationKind = "reconnect_scheduled"
	NotifyConnectionFailed   NotificationKind = "connection_failed"
)

// Notification is one lifecycle or data event from an adapter or the
// connection manager. Which optional fields are set depends on Kind.
type Notification struct {
	Kind   NotificationKind
	Server string
	Mode   Mode
	Time   time.Time

	// Err is set for NotifyError, NotifyConnectionFailed, and unexpected
	// NotifyDisconnected.
	Err error

	// Message is the envelope for NotifyMessage and NotifyEvent.
	Message *protocol.Envelope

	// Line and Stream ("stdout" or "stderr") are set for NotifyLog.
	Line   string
	Stream string

	Event        *ServerEvent
	Capabilities []string

	// Code and Reason describe a disconnect: a WebSocket close code, a
	// process exit code, or zero.
	Code   int
	Reason string
	// Local is set on NotifyDisconnected when Disconnect closed the
	// connection rather than the remote side or the process.
	Local bool

	// State is the new manager state for NotifyStateChanged.
	State string
	// PreviousMode is set for NotifyModeSwitching and NotifyModeSwitched.
	PreviousMode Mode
	// RetryIn and Attempt are set for NotifyReconnectScheduled.
	RetryIn time.Duration
	Attempt int
}

// ServerEventKind classifies a recognized console line.
type ServerEventKind string

const (
	PlayerJoined  ServerEventKind = "player_joined"
	PlayerLeft    ServerEventKind = "player_left"
	PlayerChat    ServerEventKind = "player_chat"
	ServerStarted ServerEventKind = "server_started"
	ServerStopped ServerEventKind = "server_stopping"
)

// ServerEvent is a structured event parsed from terminal output.
type ServerEvent struct {
	Kind    ServerEventKind
	Player  string
	Message string
	// StartupTime is the duration the server reported in its "Done"
	// line.
	StartupTime time.Duration
	Line        string
}
