// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"sync"
)

// Start runs health checks, cleanup, and stats refreshes on the pool's
// clock until ctx is cancelled or the pool is closed. Calling Start
// more than once has no effect.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	health := p.clock.NewTicker(p.options.HealthCheckInterval)
	cleanup := p.clock.NewTicker(p.options.CleanupInterval)
	stats := p.clock.NewTicker(p.options.StatsInterval)

	p.maintenance.Add(1)
	go func() {
		defer p.maintenance.Done()
		defer health.Stop()
		defer cleanup.Stop()
		defer stats.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-health.C:
				p.CheckHealth(ctx)
			case <-cleanup.C:
				p.EvictExpired(ctx)
			case <-stats.C:
				p.RefreshStats(ctx)
			}
		}
	}()
}

// CheckHealth asks every pooled adapter whether it is healthy and
// evicts those that are not. Checks run concurrently, each bounded by
// HealthCheckTimeout.
func (p *Pool) CheckHealth(ctx context.Context) {
	p.mu.Lock()
	connections := make([]*pooledConnection, 0, len(p.connections))
	for _, connection := range p.connections {
		connections = append(connections, connection)
	}
	p.mu.Unlock()

	unhealthy := make([]bool, len(connections))
	var wait sync.WaitGroup
	for index, connection := range connections {
		wait.Go(func() {
			checkContext, cancel := context.WithTimeout(ctx, p.options.HealthCheckTimeout)
			defer cancel()
			unhealthy[index] = !connection.adapter.IsHealthy(checkContext)
		})
	}
	wait.Wait()

	var evicted []eviction
	p.mu.Lock()
	for index, connection := range connections {
		if !unhealthy[index] {
			continue
		}
		connection.healthy = false
		if p.connections[connection.server] == connection {
			evicted = append(evicted, p.removeLocked(connection, ReasonUnhealthy))
		}
	}
	p.mu.Unlock()
	p.release(ctx, evicted)
}

// EvictExpired removes connections past MaxLifetime, and idle
// connections unused for IdleTimeout. Connections with requests in
// flight are never evicted for idleness.
func (p *Pool) EvictExpired(ctx context.Context) {
	now := p.clock.Now()
	var evicted []eviction
	p.mu.Lock()
	for _, connection := range p.connections {
		switch {
		case now.Sub(connection.createdAt) >= p.options.MaxLifetime:
			evicted = append(evicted, p.removeLocked(connection, ReasonLifetime))
		case connection.inFlight == 0 && now.Sub(connection.lastUsed) >= p.options.IdleTimeout:
			evicted = append(evicted, p.removeLocked(connection, ReasonIdle))
		}
	}
	p.mu.Unlock()
	p.release(ctx, evicted)
}

// RefreshStats recomputes Stats, publishes them, and returns them.
func (p *Pool) RefreshStats(ctx context.Context) Stats {
	var resources *ResourceUsage
	if p.options.Monitor != nil {
		usage, err := p.options.Monitor.Sample(ctx)
		if err != nil {
			p.logger.Debug("resource sample incomplete", "error", err)
		}
		resources = &usage
	}

	p.mu.Lock()
	stats := p.snapshotLocked()
	stats.Resources = resources
	stats.Health = Classify(stats, p.options.Thresholds)
	previous := p.lastStats.Health
	p.lastStats = stats
	p.mu.Unlock()

	if previous != "" && previous != stats.Health {
		p.logger.Warn("pool health changed", "from", string(previous), "to", string(stats.Health),
			"utilization", stats.Utilization, "failure_rate", stats.FailureRate)
	}
	p.publish(Notification{Kind: NotifyStatsUpdated, Time: stats.Time, Stats: &stats})
	return stats
}

// Stats returns the most recent snapshot computed by RefreshStats.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastStats
}

func (p *Pool) snapshotLocked() Stats {
	stats := Stats{
		Time:                  p.clock.Now(),
		TotalConnections:      len(p.connections),
		PendingCreations:      len(p.creating) + len(p.admitting),
		MaxConnections:        p.options.MaxConnections,
		QueuedRequests:        p.queuedLocked(),
		ActiveRequests:        p.active,
		MaxConcurrentRequests: p.options.MaxConcurrentRequests,
		CompletedRequests:     p.completed,
		FailedRequests:        p.failed,
	}
	for _, connection := range p.connections {
		if connection.inFlight > 0 {
			stats.ActiveConnections++
		}
	}
	stats.IdleConnections = stats.TotalConnections - stats.ActiveConnections
	stats.Utilization = float64(stats.ActiveConnections) / float64(p.options.MaxConnections)
	stats.AverageResponseTime, stats.FailureRate = p.outcomes.summary()
	return stats
}
