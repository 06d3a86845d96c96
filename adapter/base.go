// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/gamefleet/lib/clock"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/protocol"
)

// base holds the state every adapter type shares: identity, connection
// timestamps, capabilities, counters, and the notification hub.
//
// lifecycle serializes Connect, Disconnect, and Reconnect. mu guards the
// fields below it and each adapter's session pointer. Read loops and
// process waiters never take lifecycle, so a Disconnect holding it can
// wait for them to finish.
type base struct {
	server string
	mode   Mode
	clock  clock.Clock
	logger *slog.Logger
	hub    notify.Hub[Notification]

	lifecycle sync.Mutex

	mu           sync.Mutex
	connected    bool
	connectedAt  time.Time
	lastActivity time.Time
	capabilities []string
	lastConfig   Config

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	commandsExecuted atomic.Uint64
	errorCount       atomic.Uint64
	latency          atomic.Int64
}

func (b *base) init(server string, mode Mode, options Options) {
	b.server = server
	b.mode = mode
	b.clock = options.Clock
	if b.clock == nil {
		b.clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b.logger = logger.With("server_id", server, "mode", string(mode))
	b.capabilities = defaultCapabilities(mode)
}

func (b *base) Server() string                            { return b.server }
func (b *base) Mode() Mode                                { return b.mode }
func (b *base) Notifications() *notify.Hub[Notification] { return &b.hub }

func (b *base) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *base) Info() ConnectionInfo {
	b.mu.Lock()
	info := ConnectionInfo{
		Server:       b.server,
		Mode:         b.mode,
		Connected:    b.connected,
		ConnectedAt:  b.connectedAt,
		LastActivity: b.lastActivity,
		Capabilities: slices.Clone(b.capabilities),
	}
	b.mu.Unlock()

	info.Stats = Stats{
		MessagesSent:     b.messagesSent.Load(),
		MessagesReceived: b.messagesReceived.Load(),
		CommandsExecuted: b.commandsExecuted.Load(),
		Errors:           b.errorCount.Load(),
		Latency:          time.Duration(b.latency.Load()),
	}
	if info.Connected {
		info.Stats.Uptime = b.clock.Now().Sub(info.ConnectedAt)
	}
	return info
}

// markConnectedLocked records a successful connect. Caller holds mu.
func (b *base) markConnectedLocked(config Config) {
	now := b.clock.Now()
	b.connected = true
	b.connectedAt = now
	b.lastActivity = now
	b.lastConfig = config
}

func (b *base) markDisconnectedLocked() {
	b.connected = false
	b.connectedAt = time.Time{}
}

func (b *base) touch() {
	now := b.clock.Now()
	b.mu.Lock()
	b.lastActivity = now
	b.mu.Unlock()
}

func (b *base) sinceActivity() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock.Now().Sub(b.lastActivity)
}

func (b *base) setCapabilities(capabilities []string) {
	b.mu.Lock()
	b.capabilities = slices.Clone(capabilities)
	b.mu.Unlock()
	b.publish(Notification{Kind: NotifyCapabilities, Capabilities: slices.Clone(capabilities)})
}

func (b *base) savedConfig(op string) (Config, error) {
	b.mu.Lock()
	config := b.lastConfig
	b.mu.Unlock()
	if config == nil {
		return nil, b.fail(op, failure.New(failure.Configuration, op, "no previous connection to repeat"))
	}
	return config, nil
}

// publish stamps and delivers a notification. Callers must not hold mu.
func (b *base) publish(notification Notification) {
	notification.Server = b.server
	notification.Mode = b.mode
	if notification.Time.IsZero() {
		notification.Time = b.clock.Now()
	}
	b.hub.Publish(notification)
}

// fail counts, logs, and publishes err, then returns it.
func (b *base) fail(op string, err error) error {
	b.errorCount.Add(1)
	b.logger.Warn("adapter operation failed", "op", op, "error", err)
	b.publish(Notification{Kind: NotifyError, Err: err})
	return err
}

// notConnected is the error every send path returns without a session.
func (b *base) notConnected(op string) error {
	return b.fail(op, failure.Wrap(failure.Transport, op, ErrNotConnected))
}

func (b *base) alreadyConnected(op string) error {
	return b.fail(op, failure.Wrap(failure.Transport, op, ErrAlreadyConnected))
}

// contextFailure classifies a context error: deadlines are timeouts,
// cancellation passes through unclassified.
func (b *base) contextFailure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return b.fail(op, failure.Wrap(failure.Timeout, op, err))
	}
	return b.fail(op, err)
}

// commandFromEnvelope extracts the console command from a server.command
// request. Adapters without an envelope transport use it to implement
// SendMessage.
func commandFromEnvelope(op string, envelope *protocol.Envelope) (string, error) {
	if envelope == nil {
		return "", failure.New(failure.Unsupported, op, "nil envelope")
	}
	if envelope.Type != protocol.TypeRequest || envelope.Op != protocol.OpCommand {
		return "", failure.New(failure.Unsupported, op,
			"only %s requests are supported, got %s %q", protocol.OpCommand, envelope.Type, envelope.Op)
	}
	var request protocol.CommandRequest
	if err := envelope.DecodeData(&request); err != nil {
		return "", err
	}
	if request.Command == "" {
		return "", failure.New(failure.Unsupported, op, "empty command")
	}
	return request.Command, nil
}
