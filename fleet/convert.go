// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"slices"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/config"
	"github.com/bureau-foundation/gamefleet/manager"
	"github.com/bureau-foundation/gamefleet/pool"
)

// ManagerOptions translates the manager section. Clock, Logger, and
// adapter wiring are left for the caller.
func ManagerOptions(section config.ManagerConfig) manager.Options {
	options := manager.Options{
		RetryInterval:       section.RetryInterval.Std(),
		MaxBackoff:          section.MaxBackoff.Std(),
		HealthCheckInterval: section.HealthCheckInterval.Std(),
		HealthCheckTimeout:  section.HealthCheckTimeout.Std(),
	}
	if section.MaxRetries != nil {
		options.MaxRetries = *section.MaxRetries
	}
	if section.Backoff != nil && !*section.Backoff {
		options.DisableBackoff = true
	}
	if section.AutoSwitch != nil && !*section.AutoSwitch {
		options.DisableAutoSwitch = true
	}
	for _, name := range section.Preference {
		options.Preference = append(options.Preference, adapter.Mode(name))
	}
	return options
}

// PoolOptions translates the pool section. The resource monitor is
// attached by New, not here.
func PoolOptions(section config.PoolConfig) pool.Options {
	options := pool.Options{
		MaxConnections:        section.MaxConnections,
		MaxConcurrentRequests: section.MaxConcurrentRequests,
		RequestTimeout:        section.RequestTimeout.Std(),
		MaxLifetime:           section.MaxLifetime.Std(),
		IdleTimeout:           section.IdleTimeout.Std(),
		HealthCheckInterval:   section.HealthCheckInterval.Std(),
		CleanupInterval:       section.CleanupInterval.Std(),
		StatsInterval:         section.StatsInterval.Std(),
		RateLimit:             rate.Limit(section.RateLimit),
		RateBurst:             section.RateBurst,
	}
	if section.HostMemoryThreshold > 0 {
		options.Thresholds = pool.DefaultThresholds()
		options.Thresholds.HostMemoryPercent = section.HostMemoryThreshold
	}
	return options
}

// ServerConfig translates one server entry into the manager's form.
func ServerConfig(server config.ServerConfig) manager.ServerConfig {
	result := manager.ServerConfig{
		ID:   server.ID,
		Mode: adapter.Mode(server.Mode),
	}
	if bridge := server.Bridge; bridge != nil {
		result.Bridge = &adapter.BridgeConfig{
			Host:              bridge.Host,
			Port:              bridge.Port,
			Path:              bridge.Path,
			TLS:               bridge.TLS,
			Token:             bridge.Token,
			HeartbeatInterval: bridge.HeartbeatInterval.Std(),
			RequestTimeout:    bridge.RequestTimeout.Std(),
			HandshakeTimeout:  bridge.HandshakeTimeout.Std(),
		}
	}
	if rcon := server.RCON; rcon != nil {
		result.RCON = &adapter.RCONConfig{
			Host:     rcon.Host,
			Port:     rcon.Port,
			Password: rcon.Password,
			Timeout:  rcon.Timeout.Std(),
		}
	}
	if terminal := server.Terminal; terminal != nil {
		result.Terminal = &adapter.TerminalConfig{
			Command:        terminal.Command,
			Args:           slices.Clone(terminal.Args),
			WorkingDir:     terminal.WorkingDir,
			Env:            environment(terminal.Env),
			PID:            terminal.PID,
			UsePTY:         terminal.PTY,
			QuietPeriod:    terminal.QuietPeriod.Std(),
			CommandTimeout: terminal.CommandTimeout.Std(),
			StopCommand:    terminal.StopCommand,
			StopGrace:      terminal.StopGrace.Std(),
		}
	}
	return result
}

// environment renders a variable map as sorted KEY=value entries.
func environment(variables map[string]string) []string {
	if len(variables) == 0 {
		return nil
	}
	entries := make([]string, 0, len(variables))
	for key, value := range variables {
		entries = append(entries, key+"="+value)
	}
	slices.Sort(entries)
	return entries
}
