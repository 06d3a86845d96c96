// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Gamefleet-daemon keeps every configured game server connected. It
// loads the fleet config, connects each server in its preferred mode
// (falling back and retrying as the manager decides), runs pool
// maintenance, and logs a status line per server at a fixed interval
// until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/gamefleet/fleet"
	"github.com/bureau-foundation/gamefleet/lib/config"
	"github.com/bureau-foundation/gamefleet/lib/process"
	"github.com/bureau-foundation/gamefleet/lib/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	runtimeSettings, err := config.LoadRuntime()
	if err != nil {
		return err
	}

	var (
		configPath     string
		logLevel       string
		logFormat      string
		statusInterval time.Duration
		showVersion    bool
	)
	flagSet := pflag.NewFlagSet("gamefleet-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", runtimeSettings.ConfigPath, "fleet config file (default: $GAMEFLEET_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", runtimeSettings.LogLevel, "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", runtimeSettings.LogFormat, "log format: text or json")
	flagSet.DurationVar(&statusInterval, "status-interval", time.Minute, "how often to log fleet status (0 disables)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("gamefleet-daemon %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required (or set GAMEFLEET_CONFIG)")
	}

	logger, err := config.NewLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controlPlane, err := fleet.New(cfg, fleet.Options{Logger: logger})
	if err != nil {
		return err
	}
	logger.Info("gamefleet daemon starting",
		"version", version.Full(),
		"environment", string(cfg.Environment),
		"servers", len(cfg.Servers),
	)

	if err := controlPlane.Start(ctx); err != nil && ctx.Err() == nil {
		closeFleet(controlPlane, logger)
		return fmt.Errorf("starting fleet: %w", err)
	}

	var tick <-chan time.Time
	if statusInterval > 0 {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return closeFleet(controlPlane, logger)
		case <-tick:
			logStatus(ctx, controlPlane, logger)
			if err := controlPlane.FlushJournal(); err != nil {
				logger.Warn("journal flush failed", "error", err)
			}
		}
	}
}

func closeFleet(controlPlane *fleet.Fleet, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controlPlane.Close(ctx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	logger.Info("gamefleet daemon stopped")
	return nil
}

func logStatus(ctx context.Context, controlPlane *fleet.Fleet, logger *slog.Logger) {
	status := controlPlane.Status(ctx)
	for _, server := range status.Servers {
		attrs := []any{
			"server_id", server.Server,
			"state", string(server.State),
			"mode", string(server.Mode),
			"retry_count", server.RetryCount,
			"commands", server.Info.Stats.CommandsExecuted,
		}
		if server.LastError != nil {
			attrs = append(attrs, "error", server.LastError)
		}
		logger.Info("server status", attrs...)
	}
	stats := status.Pool
	attrs := []any{
		"health", string(stats.Health),
		"connections", stats.TotalConnections,
		"queued", stats.QueuedRequests,
		"active", stats.ActiveRequests,
		"utilization", stats.Utilization,
		"failure_rate", stats.FailureRate,
		"average_response", stats.AverageResponseTime,
	}
	if resources := stats.Resources; resources != nil {
		attrs = append(attrs,
			"resident_bytes", resources.ResidentBytes,
			"host_memory_percent", resources.HostMemoryPercent,
		)
	}
	logger.Info("pool status", attrs...)
}
