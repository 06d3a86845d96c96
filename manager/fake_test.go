// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/protocol"
)

// fakeAdapter connects or fails as its fleet says and lets tests flip
// its health or drop it.
type fakeAdapter struct {
	server     string
	mode       adapter.Mode
	connectErr error
	hub        notify.Hub[adapter.Notification]

	mu          sync.Mutex
	connected   bool
	healthy     bool
	disconnects int
}

func (f *fakeAdapter) Connect(ctx context.Context, config adapter.Config) error {
	if config == nil || config.Mode() != f.mode {
		return errors.New("wrong config")
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.healthy = true
	f.mu.Unlock()
	f.publish(adapter.Notification{Kind: adapter.NotifyConnected})
	return nil
}

func (f *fakeAdapter) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
	if was {
		f.publish(adapter.Notification{Kind: adapter.NotifyDisconnected, Local: true})
	}
	return nil
}

// drop simulates the remote end going away.
func (f *fakeAdapter) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.publish(adapter.Notification{Kind: adapter.NotifyDisconnected, Reason: "connection reset"})
}

func (f *fakeAdapter) setHealthy(healthy bool) {
	f.mu.Lock()
	f.healthy = healthy
	f.mu.Unlock()
}

func (f *fakeAdapter) Reconnect(ctx context.Context) error { return nil }

func (f *fakeAdapter) SendMessage(ctx context.Context, envelope *protocol.Envelope) error {
	return nil
}

func (f *fakeAdapter) SendCommand(ctx context.Context, command string) (adapter.CommandResult, error) {
	return adapter.CommandResult{Success: true, Output: []string{command}}, nil
}

func (f *fakeAdapter) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) IsHealthy(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && f.healthy
}

func (f *fakeAdapter) Info() adapter.ConnectionInfo {
	return adapter.ConnectionInfo{Server: f.server, Mode: f.mode, Connected: f.IsConnected()}
}

func (f *fakeAdapter) Notifications() *notify.Hub[adapter.Notification] { return &f.hub }
func (f *fakeAdapter) Server() string                                   { return f.server }
func (f *fakeAdapter) Mode() adapter.Mode                               { return f.mode }

func (f *fakeAdapter) publish(notification adapter.Notification) {
	notification.Server = f.server
	notification.Mode = f.mode
	f.hub.Publish(notification)
}

// fakeFleet is the AdapterFactory for tests. It records every adapter
// it creates in order.
type fakeFleet struct {
	mu      sync.Mutex
	failing map[adapter.Mode]bool
	created []*fakeAdapter
}

func newFakeFleet(failing ...adapter.Mode) *fakeFleet {
	fleet := &fakeFleet{failing: make(map[adapter.Mode]bool)}
	for _, mode := range failing {
		fleet.failing[mode] = true
	}
	return fleet
}

func (f *fakeFleet) factory(server string, mode adapter.Mode) (adapter.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := &fakeAdapter{server: server, mode: mode}
	if f.failing[mode] {
		created.connectErr = errors.New(string(mode) + " refused")
	}
	f.created = append(f.created, created)
	return created, nil
}

func (f *fakeFleet) setFailing(mode adapter.Mode, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[mode] = failing
}

func (f *fakeFleet) attempts() []adapter.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	modes := make([]adapter.Mode, len(f.created))
	for index, created := range f.created {
		modes[index] = created.mode
	}
	return modes
}

func (f *fakeFleet) last() *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var epoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func allModes(id string) ServerConfig {
	return ServerConfig{
		ID:       id,
		Bridge:   &adapter.BridgeConfig{Host: "127.0.0.1", Port: 8765},
		RCON:     &adapter.RCONConfig{Host: "127.0.0.1", Port: 25575, Password: "pw"},
		Terminal: &adapter.TerminalConfig{Command: "/opt/server/start.sh"},
	}
}
