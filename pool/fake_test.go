// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/manager"
	"github.com/bureau-foundation/gamefleet/protocol"
)

// stubAdapter is a connected adapter whose health tests control.
// Adapters built by managedFleet start disconnected and connect unless
// refuse is set.
type stubAdapter struct {
	server string
	refuse error
	hub    notify.Hub[adapter.Notification]

	mu        sync.Mutex
	connected bool
	healthy   bool
}

func (s *stubAdapter) Connect(ctx context.Context, config adapter.Config) error {
	if s.refuse != nil {
		return s.refuse
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.healthy = true
	return nil
}

func (s *stubAdapter) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *stubAdapter) Reconnect(ctx context.Context) error { return nil }

func (s *stubAdapter) SendMessage(ctx context.Context, envelope *protocol.Envelope) error {
	return nil
}

func (s *stubAdapter) SendCommand(ctx context.Context, command string) (adapter.CommandResult, error) {
	return adapter.CommandResult{Success: true, Output: []string{s.server + ": " + command}}, nil
}

func (s *stubAdapter) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubAdapter) IsHealthy(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.healthy
}

// drop simulates the server closing the connection.
func (s *stubAdapter) drop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.hub.Publish(adapter.Notification{
		Kind:   adapter.NotifyDisconnected,
		Server: s.server,
		Mode:   adapter.ModeRCON,
		Reason: "connection reset",
	})
}

func (s *stubAdapter) setHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

func (s *stubAdapter) Info() adapter.ConnectionInfo {
	return adapter.ConnectionInfo{Server: s.server, Mode: adapter.ModeRCON, Connected: s.IsConnected()}
}

func (s *stubAdapter) Notifications() *notify.Hub[adapter.Notification] { return &s.hub }
func (s *stubAdapter) Server() string                                   { return s.server }
func (s *stubAdapter) Mode() adapter.Mode                               { return adapter.ModeRCON }

// stubConnector hands out one stubAdapter per Establish call. When gate
// is set, Establish announces itself on establishing and blocks until
// gate closes.
type stubConnector struct {
	gate         chan struct{}
	establishing chan string

	mu           sync.Mutex
	failing      map[string]bool
	established  []string
	disconnected []string
	adapters     map[string]*stubAdapter
}

func newStubConnector() *stubConnector {
	return &stubConnector{
		establishing: make(chan string, 64),
		failing:      make(map[string]bool),
		adapters:     make(map[string]*stubAdapter),
	}
}

func (c *stubConnector) Establish(ctx context.Context, config manager.ServerConfig) (adapter.Adapter, error) {
	c.establishing <- config.ID
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.established = append(c.established, config.ID)
	if c.failing[config.ID] {
		return nil, errors.New("server unreachable")
	}
	created := &stubAdapter{server: config.ID, connected: true, healthy: true}
	c.adapters[config.ID] = created
	return created, nil
}

func (c *stubConnector) Disconnect(ctx context.Context, server string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = append(c.disconnected, server)
	if current := c.adapters[server]; current != nil {
		current.Disconnect(ctx)
	}
	return nil
}

func (c *stubConnector) establishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.established)
}

func (c *stubConnector) disconnects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.disconnected...)
}

func (c *stubConnector) adapter(server string) *stubAdapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapters[server]
}

// managedFleet is the adapter factory behind a real manager.Manager.
type managedFleet struct {
	mu      sync.Mutex
	refused map[string]bool
	created []*stubAdapter
}

func newManagedFleet(refused ...string) *managedFleet {
	fleet := &managedFleet{refused: make(map[string]bool)}
	for _, server := range refused {
		fleet.refused[server] = true
	}
	return fleet
}

func (f *managedFleet) factory(server string, mode adapter.Mode) (adapter.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := &stubAdapter{server: server}
	if f.refused[server] {
		created.refuse = errors.New(server + " refused the connection")
	}
	f.created = append(f.created, created)
	return created, nil
}

func (f *managedFleet) setRefused(server string, refused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refused[server] = refused
}

func (f *managedFleet) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// live counts adapters currently connected across all servers.
func (f *managedFleet) live() int {
	f.mu.Lock()
	created := append([]*stubAdapter(nil), f.created...)
	f.mu.Unlock()
	count := 0
	for _, candidate := range created {
		if candidate.IsConnected() {
			count++
		}
	}
	return count
}

func serverConfig(id string) manager.ServerConfig {
	return manager.ServerConfig{
		ID:   id,
		RCON: &adapter.RCONConfig{Host: "127.0.0.1", Port: 25575, Password: "pw"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

var epoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
