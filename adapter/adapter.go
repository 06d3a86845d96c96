// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/gamefleet/lib/clock"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/protocol"
	"github.com/bureau-foundation/gamefleet/transport"
)

// Adapter is a connection to one game server over one transport.
type Adapter interface {
	// Connect opens the transport. It fails with a wrapped
	// ErrAlreadyConnected when the adapter is already connected and with
	// a failure.Configuration error when config is the wrong variant.
	Connect(ctx context.Context, config Config) error

	// Disconnect closes the transport. It is a no-op when not connected.
	Disconnect(ctx context.Context) error

	// Reconnect disconnects and connects again with the configuration of
	// the last successful Connect.
	Reconnect(ctx context.Context) error

	// SendMessage delivers one envelope. Adapters without an envelope
	// transport accept only server.command requests.
	SendMessage(ctx context.Context, envelope *protocol.Envelope) error

	// SendCommand runs one console command and returns its output.
	SendCommand(ctx context.Context, command string) (CommandResult, error)

	IsConnected() bool

	// IsHealthy reports whether the connection is usable right now. It
	// never blocks past ctx.
	IsHealthy(ctx context.Context) bool

	Info() ConnectionInfo
	Notifications() *notify.Hub[Notification]
	Server() string
	Mode() Mode
}

// CommandResult is the outcome of SendCommand. A command the server ran
// but reported as failed has Success false and the server's message in
// Error; the returned error is nil in that case.
type CommandResult struct {
	Success       bool
	Output        []string
	ExecutionTime time.Duration
	Error         string
}

// ConnectionInfo is a point-in-time snapshot of an adapter.
type ConnectionInfo struct {
	Server       string
	Mode         Mode
	Connected    bool
	ConnectedAt  time.Time
	LastActivity time.Time
	Capabilities []string
	Stats        Stats
}

// Stats are cumulative counters for the adapter's lifetime, across
// reconnects.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	CommandsExecuted uint64
	Errors           uint64
	// Uptime is the time since the current connection was established,
	// zero while disconnected.
	Uptime time.Duration
	// Latency is the last measured round trip. Only the bridge measures
	// it.
	Latency time.Duration
}

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrAuthTimeout      = errors.New("authentication timed out")
)

// Options carries the dependencies shared by all adapter types. Zero
// values select production defaults.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// Dialer opens RCON connections. Defaults to a transport.TCPDialer.
	Dialer transport.Dialer

	// WebSocketDialer opens bridge connections. Defaults to
	// websocket.DefaultDialer.
	WebSocketDialer *websocket.Dialer
}

// New creates a disconnected adapter for server in the given mode.
func New(server string, mode Mode, options Options) (Adapter, error) {
	switch mode {
	case ModeBridge:
		return NewBridge(server, options), nil
	case ModeRCON:
		return NewRCON(server, options), nil
	case ModeTerminal:
		return NewTerminal(server, options), nil
	default:
		return nil, failure.New(failure.Configuration, "new adapter", "unknown connection mode %q", mode)
	}
}
