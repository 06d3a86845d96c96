// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/clock"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/manager"
)

// ErrPoolClosed rejects every request made or still queued after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// Connector establishes and releases server connections. The
// connection mode manager implements it.
type Connector interface {
	Establish(ctx context.Context, config manager.ServerConfig) (adapter.Adapter, error)
	Disconnect(ctx context.Context, server string) error
}

// gatedConnector is a Connector that also connects servers on its own,
// as the manager does when it retries or recovers. New installs the
// pool as its gate so those adapters count against MaxConnections.
type gatedConnector interface {
	Connector
	SetGate(gate manager.Gate)
}

// Pool bounds live adapters and concurrently executing requests across
// servers.
type Pool struct {
	options   Options
	connector Connector
	clock     clock.Clock
	logger    *slog.Logger
	hub       notify.Hub[Notification]

	mu          sync.Mutex
	connections map[string]*pooledConnection
	creating    map[string]*creation
	admitting   map[string]struct{}
	queue       []*queuedRequest
	running     map[*queuedRequest]struct{}
	active      int
	limiters    map[string]*rate.Limiter
	outcomes    outcomeWindow
	completed   uint64
	failed      uint64
	lastStats   Stats
	started     bool
	closed      bool

	stop        chan struct{}
	maintenance sync.WaitGroup
}

// pooledConnection is one live adapter. Fields other than server and
// adapter are guarded by Pool.mu.
type pooledConnection struct {
	server    string
	adapter   adapter.Adapter
	createdAt time.Time
	lastUsed  time.Time
	inFlight  int
	healthy   bool
}

// creation is an establishment in progress. done closes when it ends;
// err is set before that on failure.
type creation struct {
	done chan struct{}
	err  error
}

// New creates a Pool that obtains adapters from connector. Call Start
// to run maintenance. When connector is the connection manager the pool
// becomes its gate.
func New(connector Connector, options Options) *Pool {
	options = options.withDefaults()
	p := &Pool{
		options:     options,
		connector:   connector,
		clock:       options.Clock,
		logger:      options.Logger,
		connections: make(map[string]*pooledConnection),
		creating:    make(map[string]*creation),
		admitting:   make(map[string]struct{}),
		running:     make(map[*queuedRequest]struct{}),
		limiters:    make(map[string]*rate.Limiter),
		stop:        make(chan struct{}),
	}
	if gated, ok := connector.(gatedConnector); ok {
		gated.SetGate(p)
	}
	return p
}

// Notifications returns the hub carrying pool notifications.
func (p *Pool) Notifications() *notify.Hub[Notification] { return &p.hub }

// GetConnection returns a live adapter for the server, establishing
// one through the connector when the pool has none or only a stale
// one.
func (p *Pool) GetConnection(ctx context.Context, config manager.ServerConfig) (adapter.Adapter, error) {
	const op = "get connection"
	server := config.ID
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		var evicted []eviction
		if existing := p.connections[server]; existing != nil {
			if p.usableLocked(existing) {
				existing.lastUsed = p.clock.Now()
				p.mu.Unlock()
				return existing.adapter, nil
			}
			stale := p.removeLocked(existing, p.staleReason(existing))
			// A dropped adapter belongs to the connector's recovery,
			// which may already have replaced it. Establish below
			// returns or rebuilds whatever the connector holds now.
			stale.detached = stale.reason == ReasonDisconnected
			evicted = append(evicted, stale)
		}

		if pending := p.creating[server]; pending != nil {
			p.mu.Unlock()
			p.release(ctx, evicted)
			select {
			case <-pending.done:
			case <-ctx.Done():
				return nil, contextFailure(op, ctx.Err())
			}
			if pending.err != nil {
				return nil, pending.err
			}
			continue
		}

		if p.sizeLocked() >= p.options.MaxConnections {
			victim := p.leastRecentlyUsedIdleLocked()
			if victim == nil {
				limit := p.options.MaxConnections
				p.mu.Unlock()
				p.release(ctx, evicted)
				return nil, failure.New(failure.Capacity, op,
					"all %d pooled connections have requests in flight", limit)
			}
			evicted = append(evicted, p.removeLocked(victim, ReasonCapacity))
		}

		pending := &creation{done: make(chan struct{})}
		p.creating[server] = pending
		p.mu.Unlock()

		p.release(ctx, evicted)
		return p.create(ctx, config, pending)
	}
}

// create establishes the connection for a reserved creation slot.
func (p *Pool) create(ctx context.Context, config manager.ServerConfig, pending *creation) (adapter.Adapter, error) {
	server := config.ID
	connected, err := p.connector.Establish(ctx, config)

	p.mu.Lock()
	delete(p.creating, server)
	if err == nil && p.closed {
		err = ErrPoolClosed
		p.mu.Unlock()
		if disconnectErr := p.connector.Disconnect(context.WithoutCancel(ctx), server); disconnectErr != nil {
			p.logger.Warn("disconnect after close failed", "server_id", server, "error", disconnectErr)
		}
		p.mu.Lock()
	}
	if err != nil {
		pending.err = err
		close(pending.done)
		p.mu.Unlock()
		p.logger.Warn("pooled connection failed", "server_id", server, "error", err)
		return nil, err
	}
	now := p.clock.Now()
	p.connections[server] = &pooledConnection{
		server:    server,
		adapter:   connected,
		createdAt: now,
		lastUsed:  now,
		healthy:   true,
	}
	close(pending.done)
	p.mu.Unlock()

	p.logger.Info("pooled connection created", "server_id", server, "mode", string(connected.Mode()))
	p.publish(Notification{Kind: NotifyConnectionCreated, Server: server, Mode: connected.Mode()})
	return connected, nil
}

// Remove disconnects and forgets the server's pooled connection. It is
// a no-op for a server the pool does not hold.
func (p *Pool) Remove(ctx context.Context, server string) {
	p.mu.Lock()
	existing := p.connections[server]
	if existing == nil {
		p.mu.Unlock()
		return
	}
	removed := p.removeLocked(existing, ReasonDisconnected)
	p.mu.Unlock()
	p.release(ctx, []eviction{removed})
}

// Size reports the number of live and in-progress connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizeLocked()
}

// Capacity reports MaxConnections.
func (p *Pool) Capacity() int { return p.options.MaxConnections }

func (p *Pool) sizeLocked() int {
	return len(p.connections) + len(p.creating) + len(p.admitting)
}

// usableLocked reports whether a pooled connection can be handed out.
func (p *Pool) usableLocked(connection *pooledConnection) bool {
	return connection.healthy &&
		connection.adapter.IsConnected() &&
		p.clock.Now().Sub(connection.createdAt) < p.options.MaxLifetime
}

func (p *Pool) staleReason(connection *pooledConnection) string {
	switch {
	case !connection.healthy:
		return ReasonUnhealthy
	case !connection.adapter.IsConnected():
		return ReasonDisconnected
	default:
		return ReasonLifetime
	}
}

// leastRecentlyUsedIdleLocked returns the connection with no requests
// in flight that was used longest ago, or nil.
func (p *Pool) leastRecentlyUsedIdleLocked() *pooledConnection {
	var victim *pooledConnection
	for _, connection := range p.connections {
		if connection.inFlight > 0 {
			continue
		}
		if victim == nil || connection.lastUsed.Before(victim.lastUsed) {
			victim = connection
		}
	}
	return victim
}

// eviction is a connection taken out of the pool. Unless detached it
// still has to be disconnected.
type eviction struct {
	connection *pooledConnection
	reason     string
	detached   bool
}

func (p *Pool) removeLocked(connection *pooledConnection, reason string) eviction {
	if p.connections[connection.server] == connection {
		delete(p.connections, connection.server)
	}
	delete(p.limiters, connection.server)
	return eviction{connection: connection, reason: reason}
}

// release disconnects removed connections through the connector.
func (p *Pool) release(ctx context.Context, removed []eviction) {
	ctx = context.WithoutCancel(ctx)
	for _, entry := range removed {
		server := entry.connection.server
		mode := entry.connection.adapter.Mode()
		p.logger.Info("pooled connection evicted", "server_id", server, "mode", string(mode), "reason", entry.reason)
		if !entry.detached {
			if err := p.connector.Disconnect(ctx, server); err != nil {
				p.logger.Warn("disconnect of evicted connection failed", "server_id", server, "error", err)
			}
		}
		p.publish(Notification{Kind: NotifyConnectionEvicted, Server: server, Mode: mode, Reason: entry.reason})
	}
}

func (p *Pool) publish(notification Notification) {
	if notification.Time.IsZero() {
		notification.Time = p.clock.Now()
	}
	p.hub.Publish(notification)
}

// Close rejects queued requests with ErrPoolClosed, stops maintenance,
// and disconnects every pooled connection. Requests already executing
// run to completion.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	queued := p.queue
	p.queue = nil
	var removed []eviction
	for _, connection := range p.connections {
		removed = append(removed, p.removeLocked(connection, ReasonClosed))
	}
	for _, request := range queued {
		p.resolveLocked(request, nil, ErrPoolClosed)
	}
	p.mu.Unlock()

	close(p.stop)
	p.maintenance.Wait()
	p.release(ctx, removed)
	p.logger.Info("connection pool closed", "rejected_requests", len(queued), "released_connections", len(removed))
	p.hub.Close()
	return nil
}

func contextFailure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Wrap(failure.Timeout, op, err)
	}
	return err
}
