// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/manager"
)

var _ manager.Gate = (*Pool)(nil)

// Admit implements manager.Gate. A server the pool holds or is
// creating keeps its slot; any other server needs a free one, which
// stays reserved until Settle.
func (p *Pool) Admit(server string) error {
	const op = "admit connection"
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return failure.Wrap(failure.Capacity, op, ErrPoolClosed)
	}
	if p.connections[server] != nil || p.creating[server] != nil {
		return nil
	}
	if _, ok := p.admitting[server]; ok {
		return nil
	}
	if p.sizeLocked() >= p.options.MaxConnections {
		p.logger.Info("connection refused at pool limit", "server_id", server, "max_connections", p.options.MaxConnections)
		return failure.New(failure.Capacity, op,
			"pool holds its limit of %d connections", p.options.MaxConnections)
	}
	p.admitting[server] = struct{}{}
	return nil
}

// Settle implements manager.Gate. An adapter connected outside
// GetConnection joins the pool in its reserved slot, or replaces the
// server's pooled adapter. Adapters GetConnection is waiting for are
// recorded by it instead.
func (p *Pool) Settle(server string, connected adapter.Adapter) {
	p.mu.Lock()
	_, reserved := p.admitting[server]
	delete(p.admitting, server)
	if connected == nil || p.creating[server] != nil {
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	existing := p.connections[server]
	switch {
	case existing != nil && existing.adapter == connected:
		p.mu.Unlock()
		return
	case existing != nil:
		p.connections[server] = &pooledConnection{
			server:    server,
			adapter:   connected,
			createdAt: now,
			lastUsed:  existing.lastUsed,
			healthy:   true,
		}
		p.mu.Unlock()
		p.logger.Info("pooled connection replaced", "server_id", server, "mode", string(connected.Mode()))
		return
	case !reserved || p.closed:
		// The slot was evicted while connecting; the eviction's
		// disconnect follows.
		p.mu.Unlock()
		return
	}
	p.connections[server] = &pooledConnection{
		server:    server,
		adapter:   connected,
		createdAt: now,
		lastUsed:  now,
		healthy:   true,
	}
	p.mu.Unlock()

	p.logger.Info("pooled connection adopted", "server_id", server, "mode", string(connected.Mode()))
	p.publish(Notification{Kind: NotifyConnectionCreated, Server: server, Mode: connected.Mode()})
}
