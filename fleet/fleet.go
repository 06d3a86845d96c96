// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/clock"
	"github.com/bureau-foundation/gamefleet/lib/config"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/journal"
	"github.com/bureau-foundation/gamefleet/manager"
	"github.com/bureau-foundation/gamefleet/pool"
)

// Options carries the dependencies New does not read from the config.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// AdapterOptions is passed through to the manager.
	AdapterOptions adapter.Options
	// NewAdapter replaces adapter.New in the manager.
	NewAdapter manager.AdapterFactory
	// Sampler replaces the process resource monitor. It is used whether
	// or not the config enables monitoring.
	Sampler pool.ResourceSampler
}

// Fleet is an assembled control plane.
type Fleet struct {
	logger  *slog.Logger
	servers map[string]manager.ServerConfig
	order   []string

	manager *manager.Manager
	pool    *pool.Pool
	journal *journal.Writer

	recorders sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Status is a point-in-time report of the whole fleet.
type Status struct {
	Servers []manager.Status
	Pool    pool.Stats
}

// New validates cfg and builds the fleet. Nothing connects until Start
// or Execute.
func New(cfg *config.Config, options Options) (*Fleet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, failure.Wrap(failure.Configuration, "fleet", err)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fleetClock := options.Clock
	if fleetClock == nil {
		fleetClock = clock.Real()
	}

	managerOptions := ManagerOptions(cfg.Manager)
	managerOptions.Clock = fleetClock
	managerOptions.Logger = logger.With("component", "manager")
	managerOptions.AdapterOptions = options.AdapterOptions
	managerOptions.NewAdapter = options.NewAdapter
	connections := manager.New(managerOptions)

	poolOptions := PoolOptions(cfg.Pool)
	poolOptions.Clock = fleetClock
	poolOptions.Logger = logger.With("component", "pool")
	switch {
	case options.Sampler != nil:
		poolOptions.Monitor = options.Sampler
	case cfg.Pool.MonitorResources != nil && *cfg.Pool.MonitorResources:
		monitor, err := pool.NewMonitor()
		if err != nil {
			logger.Warn("resource monitoring unavailable", "error", err)
		} else {
			poolOptions.Monitor = monitor
		}
	}

	f := &Fleet{
		logger:  logger,
		servers: make(map[string]manager.ServerConfig, len(cfg.Servers)),
		manager: connections,
		pool:    pool.New(connections, poolOptions),
	}
	for _, server := range cfg.Servers {
		f.servers[server.ID] = ServerConfig(server)
		f.order = append(f.order, server.ID)
	}

	if cfg.Journal.Path != "" {
		compression, err := journal.ParseCompression(cfg.Journal.Compression)
		if err != nil {
			return nil, failure.Wrap(failure.Configuration, "fleet", err)
		}
		writer, err := journal.Create(cfg.Journal.Path, journal.WriterOptions{Compression: compression})
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		f.journal = writer
		f.startRecorders()
		logger.Info("journal open", "path", cfg.Journal.Path, "compression", compression.String())
	}
	return f, nil
}

// Manager returns the connection mode manager.
func (f *Fleet) Manager() *manager.Manager { return f.manager }

// Pool returns the connection pool.
func (f *Fleet) Pool() *pool.Pool { return f.pool }

// Servers lists the configured server ids in config order.
func (f *Fleet) Servers() []string { return append([]string(nil), f.order...) }

// Start connects configured servers through the pool, in config order,
// until the pool is full, then starts pool maintenance. Servers past
// that point connect on first use. A server that cannot connect is
// logged and left to the manager's retry schedule; Start only fails
// when ctx ends.
func (f *Fleet) Start(ctx context.Context) error {
	for index, id := range f.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.pool.Size() >= f.pool.Capacity() {
			f.logger.Info("pool full at startup", "capacity", f.pool.Capacity(), "deferred", len(f.order)-index)
			break
		}
		connected, err := f.pool.GetConnection(ctx, f.servers[id])
		if err != nil {
			f.logger.Warn("server not connected at startup", "server_id", id, "error", err)
			continue
		}
		f.logger.Info("server connected", "server_id", id, "mode", string(connected.Mode()))
	}
	f.pool.Start(ctx)
	return nil
}

// Execute runs one console command on the server through the pool.
func (f *Fleet) Execute(ctx context.Context, server, command string) (adapter.CommandResult, error) {
	config, ok := f.servers[server]
	if !ok {
		return adapter.CommandResult{}, failure.New(failure.Configuration, "execute", "unknown server %q", server)
	}
	return pool.Execute(ctx, f.pool, config, func(ctx context.Context, connection adapter.Adapter) (adapter.CommandResult, error) {
		return connection.SendCommand(ctx, command)
	})
}

// Status reports every server and refreshes the pool statistics.
func (f *Fleet) Status(ctx context.Context) Status {
	return Status{
		Servers: f.manager.Statuses(),
		Pool:    f.pool.RefreshStats(ctx),
	}
}

// FlushJournal writes buffered journal records. It is a no-op without a
// journal.
func (f *Fleet) FlushJournal() error {
	if f.journal == nil {
		return nil
	}
	return f.journal.Flush()
}

// Close shuts down the pool, then the manager, then the journal. The
// pool goes first because it releases connections through the manager.
func (f *Fleet) Close(ctx context.Context) error {
	f.closeOnce.Do(func() {
		var errs []error
		if err := f.pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing pool: %w", err))
		}
		if err := f.manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing manager: %w", err))
		}
		// Both hubs are closed now, so the recorders drain and exit.
		f.recorders.Wait()
		if f.journal != nil {
			if err := f.journal.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing journal: %w", err))
			}
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}
