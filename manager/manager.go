// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/clock"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/notify"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("connection manager closed")

// State is the lifecycle state of one server entry.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateSwitching    State = "switching"
	StateError        State = "error"
)

// Manager keeps one adapter per server connected.
type Manager struct {
	options Options
	clock   clock.Clock
	logger  *slog.Logger
	hub     notify.Hub[adapter.Notification]

	mu      sync.Mutex
	entries map[string]*entry
	gate    Gate
	closed  bool
}

// entry is the per-server state. op serializes lifecycle operations
// (establish, switch, retry, failure handling, teardown) and is held
// across adapter Connect and Disconnect calls. mu guards the fields
// for snapshots and is never held across a blocking call.
type entry struct {
	id string
	op sync.Mutex

	mu             sync.Mutex
	config         ServerConfig
	adapter        adapter.Adapter
	removeHandler  func()
	mode           adapter.Mode
	state          State
	retryCount     int
	switchAttempts int
	lastError      error
	retryTimer     *clock.Timer
	healthTimer    *clock.Timer
	// generation changes whenever the adapter is installed or torn
	// down. Timers capture it and do nothing when it has moved on.
	generation uint64
	// retryToken identifies the pending retry timer. A retry that fires
	// after its timer was replaced sees a different token.
	retryToken uint64
	// gaveUp is set once connection_failed has been published and
	// cleared by the next Establish.
	gaveUp  bool
	removed bool
}

// New creates a Manager with no servers.
func New(options Options) *Manager {
	options = options.withDefaults()
	return &Manager{
		options: options,
		clock:   options.Clock,
		logger:  options.Logger,
		entries: make(map[string]*entry),
	}
}

// Notifications returns the hub carrying adapter and manager
// notifications for every server.
func (m *Manager) Notifications() *notify.Hub[adapter.Notification] { return &m.hub }

// Establish connects the server described by config, or returns its
// adapter if it is already connected and healthy. On failure the
// cascade and retry schedule described in the package documentation
// start, and the error from the last attempt is returned.
func (m *Manager) Establish(ctx context.Context, config ServerConfig) (adapter.Adapter, error) {
	const op = "establish"
	if err := config.Validate(); err != nil {
		return nil, err
	}
	primary := config.Primary(m.options.Preference)
	if primary == "" {
		return nil, failure.New(failure.Configuration, op,
			"server %q has no mode in the preference order %v", config.ID, m.options.Preference)
	}

	e, err := m.entryFor(config.ID, true)
	if err != nil {
		return nil, err
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.isRemoved() {
		return nil, failure.Wrap(failure.Transport, op, ErrClosed)
	}

	e.mu.Lock()
	e.config = config
	current := e.adapter
	if e.gaveUp {
		e.gaveUp = false
		e.retryCount = 0
		e.switchAttempts = 0
	}
	e.mu.Unlock()

	if current != nil {
		if current.IsConnected() && current.IsHealthy(ctx) {
			return current, nil
		}
		m.logger.Info("replacing stale connection", "server_id", config.ID, "mode", string(current.Mode()))
		m.teardown(ctx, e)
	}

	connected, err := m.cascade(ctx, e, primary, m.cascadeFrom(primary), nil)
	if err != nil {
		m.scheduleRetry(e, primary)
		return nil, err
	}
	return connected, nil
}

// SwitchMode replaces the server's adapter with one in mode. A non-nil
// config replaces the stored configuration for that mode. On failure the
// entry is left in error; the previous adapter is not restored.
func (m *Manager) SwitchMode(ctx context.Context, server string, mode adapter.Mode, config adapter.Config) error {
	const op = "switch mode"
	if !mode.Valid() {
		return failure.New(failure.Configuration, op, "unknown connection mode %q", mode)
	}
	e, err := m.entryFor(server, false)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.isRemoved() {
		return failure.New(failure.Configuration, op, "unknown server %q", server)
	}

	e.mu.Lock()
	if config != nil {
		if config.Mode() != mode {
			e.mu.Unlock()
			return failure.New(failure.Configuration, op, "%s config supplied for a switch to %s", config.Mode(), mode)
		}
		if err := config.Validate(); err != nil {
			e.mu.Unlock()
			return err
		}
		e.config.Set(config)
	}
	missing := e.config.ConfigFor(mode) == nil
	previous := e.mode
	e.mu.Unlock()
	if missing {
		return failure.New(failure.Configuration, op, "server %q has no %s configuration", server, mode)
	}

	m.logger.Info("switching connection mode", "server_id", server, "from", string(previous), "to", string(mode))
	m.setState(e, StateSwitching)
	m.publish(e, adapter.Notification{Kind: adapter.NotifyModeSwitching, Mode: mode, PreviousMode: previous})

	m.teardown(ctx, e)
	if _, err := m.connect(ctx, e, mode); err != nil {
		m.logger.Warn("mode switch failed", "server_id", server, "mode", string(mode), "error", err)
		return err
	}
	m.publish(e, adapter.Notification{Kind: adapter.NotifyModeSwitched, Mode: mode, PreviousMode: previous})
	return nil
}

// Disconnect closes the server's adapter and cancels pending retries.
// The server stays registered.
func (m *Manager) Disconnect(ctx context.Context, server string) error {
	e, err := m.entryFor(server, false)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	m.teardown(ctx, e)
	m.setState(e, StateDisconnected)
	return nil
}

// Remove disconnects the server and forgets it.
func (m *Manager) Remove(ctx context.Context, server string) error {
	e, err := m.entryFor(server, false)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	m.teardown(ctx, e)
	m.setState(e, StateDisconnected)

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	m.mu.Lock()
	if m.entries[server] == e {
		delete(m.entries, server)
	}
	m.mu.Unlock()
	return nil
}

// Adapter returns the server's adapter while it is connected.
func (m *Manager) Adapter(server string) (adapter.Adapter, bool) {
	m.mu.Lock()
	e, ok := m.entries[server]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adapter == nil || e.state != StateConnected {
		return nil, false
	}
	return e.adapter, true
}

// Close removes every server and closes the notification hub.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	servers := make([]string, 0, len(m.entries))
	for server := range m.entries {
		servers = append(servers, server)
	}
	m.mu.Unlock()

	slices.Sort(servers)
	var errs []error
	for _, server := range servers {
		if err := m.Remove(ctx, server); err != nil {
			errs = append(errs, err)
		}
	}
	m.hub.Close()
	return errors.Join(errs...)
}

func (m *Manager) entryFor(server string, create bool) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed && create {
		return nil, failure.Wrap(failure.Transport, "establish", ErrClosed)
	}
	e, ok := m.entries[server]
	if ok {
		return e, nil
	}
	if !create {
		return nil, failure.New(failure.Configuration, "lookup", "unknown server %q", server)
	}
	e = &entry{id: server, state: StateDisconnected}
	m.entries[server] = e
	return e, nil
}

func (e *entry) isRemoved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed
}

func (m *Manager) setState(e *entry, state State) {
	e.mu.Lock()
	previous := e.state
	e.state = state
	mode := e.mode
	e.mu.Unlock()
	if previous == state {
		return
	}
	m.logger.Debug("connection state changed", "server_id", e.id, "from", string(previous), "to", string(state))
	m.publish(e, adapter.Notification{Kind: adapter.NotifyStateChanged, Mode: mode, State: string(state)})
}

// publish stamps a manager notification with the server and time.
func (m *Manager) publish(e *entry, notification adapter.Notification) {
	notification.Server = e.id
	if notification.Time.IsZero() {
		notification.Time = m.clock.Now()
	}
	m.hub.Publish(notification)
}

// teardown stops the entry's timers and disconnects its adapter. Caller
// holds e.op.
func (m *Manager) teardown(ctx context.Context, e *entry) {
	e.mu.Lock()
	e.generation++
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	if e.healthTimer != nil {
		e.healthTimer.Stop()
		e.healthTimer = nil
	}
	current := e.adapter
	removeHandler := e.removeHandler
	e.adapter = nil
	e.removeHandler = nil
	e.mu.Unlock()

	if current == nil {
		return
	}
	if err := current.Disconnect(ctx); err != nil {
		m.logger.Warn("disconnect failed", "server_id", e.id, "mode", string(current.Mode()), "error", err)
	}
	if removeHandler != nil {
		removeHandler()
	}
}

// Status is a snapshot of one server entry.
type Status struct {
	Server         string
	State          State
	Mode           adapter.Mode
	RetryCount     int
	SwitchAttempts int
	LastError      error
	// Info is the adapter snapshot; zero when no adapter is installed.
	Info adapter.ConnectionInfo
}

// Status reports one server.
func (m *Manager) Status(server string) (Status, bool) {
	m.mu.Lock()
	e, ok := m.entries[server]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return e.status(), true
}

// Statuses reports every server, ordered by id.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, e.status())
	}
	slices.SortFunc(statuses, func(a, b Status) int { return strings.Compare(a.Server, b.Server) })
	return statuses
}

func (e *entry) status() Status {
	e.mu.Lock()
	status := Status{
		Server:         e.id,
		State:          e.state,
		Mode:           e.mode,
		RetryCount:     e.retryCount,
		SwitchAttempts: e.switchAttempts,
		LastError:      e.lastError,
	}
	current := e.adapter
	e.mu.Unlock()
	if current != nil {
		status.Info = current.Info()
	}
	return status
}
