// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/pool"
	"github.com/bureau-foundation/gamefleet/protocol"
)

// consoleAdapter echoes commands with its server and mode.
type consoleAdapter struct {
	server string
	mode   adapter.Mode
	refuse bool
	hub    notify.Hub[adapter.Notification]

	mu        sync.Mutex
	connected bool
	commands  []string
}

func (c *consoleAdapter) Connect(ctx context.Context, config adapter.Config) error {
	if c.refuse {
		return errors.New(string(c.mode) + " refused")
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.publish(adapter.Notification{Kind: adapter.NotifyConnected})
	return nil
}

func (c *consoleAdapter) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	c.mu.Unlock()
	if was {
		c.publish(adapter.Notification{Kind: adapter.NotifyDisconnected, Local: true})
	}
	return nil
}

func (c *consoleAdapter) Reconnect(ctx context.Context) error { return nil }

func (c *consoleAdapter) SendMessage(ctx context.Context, envelope *protocol.Envelope) error {
	return nil
}

func (c *consoleAdapter) SendCommand(ctx context.Context, command string) (adapter.CommandResult, error) {
	c.mu.Lock()
	c.commands = append(c.commands, command)
	c.mu.Unlock()
	return adapter.CommandResult{
		Success: true,
		Output:  []string{c.server + "/" + string(c.mode) + ": " + command},
	}, nil
}

func (c *consoleAdapter) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *consoleAdapter) IsHealthy(ctx context.Context) bool { return c.IsConnected() }

func (c *consoleAdapter) Info() adapter.ConnectionInfo {
	return adapter.ConnectionInfo{Server: c.server, Mode: c.mode, Connected: c.IsConnected()}
}

func (c *consoleAdapter) Notifications() *notify.Hub[adapter.Notification] { return &c.hub }
func (c *consoleAdapter) Server() string                                   { return c.server }
func (c *consoleAdapter) Mode() adapter.Mode                               { return c.mode }

func (c *consoleAdapter) publish(notification adapter.Notification) {
	notification.Server = c.server
	notification.Mode = c.mode
	notification.Time = epoch
	c.hub.Publish(notification)
}

// consoleFactory creates consoleAdapters, refusing the listed modes.
type consoleFactory struct {
	refused map[adapter.Mode]bool

	mu      sync.Mutex
	created []*consoleAdapter
}

func newConsoleFactory(refused ...adapter.Mode) *consoleFactory {
	factory := &consoleFactory{refused: make(map[adapter.Mode]bool)}
	for _, mode := range refused {
		factory.refused[mode] = true
	}
	return factory
}

func (f *consoleFactory) create(server string, mode adapter.Mode) (adapter.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := &consoleAdapter{server: server, mode: mode, refuse: f.refused[mode]}
	f.created = append(f.created, created)
	return created, nil
}

// live counts adapters currently connected across all servers.
func (f *consoleFactory) live() int {
	f.mu.Lock()
	created := append([]*consoleAdapter(nil), f.created...)
	f.mu.Unlock()
	count := 0
	for _, candidate := range created {
		if candidate.IsConnected() {
			count++
		}
	}
	return count
}

type fixedSampler struct{}

func (fixedSampler) Sample(ctx context.Context) (pool.ResourceUsage, error) {
	return pool.ResourceUsage{ResidentBytes: 64 << 20, HostMemoryPercent: 40, Goroutines: 12}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

var epoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
