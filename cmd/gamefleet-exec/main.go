// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Gamefleet-exec runs one console command on a configured game server
// and prints its output.
//
//	gamefleet-exec --config fleet.yaml --server lobby -- say maintenance in 5 minutes
//
// The server is reached the same way the daemon reaches it: preferred
// mode first, then the configured fallbacks. Output is plain lines on a
// terminal and a JSON object otherwise (or with --json).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/fleet"
	"github.com/bureau-foundation/gamefleet/lib/config"
	"github.com/bureau-foundation/gamefleet/lib/process"
	"github.com/bureau-foundation/gamefleet/lib/version"
)

func main() {
	os.Exit(process.ExitCode(run()))
}

// output is the JSON form of a command result.
type output struct {
	Server          string   `json:"server"`
	Command         string   `json:"command"`
	Success         bool     `json:"success"`
	Output          []string `json:"output"`
	Error           string   `json:"error,omitempty"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
}

func run() error {
	runtimeSettings, err := config.LoadRuntime()
	if err != nil {
		return err
	}

	var (
		configPath  string
		server      string
		jsonOutput  bool
		timeout     time.Duration
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("gamefleet-exec", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", runtimeSettings.ConfigPath, "fleet config file (default: $GAMEFLEET_CONFIG)")
	flagSet.StringVar(&server, "server", "", "server id from the config (required)")
	flagSet.BoolVar(&jsonOutput, "json", false, "print the result as JSON even on a terminal")
	flagSet.DurationVar(&timeout, "timeout", time.Minute, "overall deadline for connecting and running the command")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("gamefleet-exec %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required (or set GAMEFLEET_CONFIG)")
	}
	if server == "" {
		return fmt.Errorf("--server is required")
	}
	command := strings.Join(flagSet.Args(), " ")
	if command == "" {
		return fmt.Errorf("usage: gamefleet-exec --server ID -- COMMAND...")
	}

	logger, err := config.NewLogger(logLevel, runtimeSettings.LogFormat)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// A one-shot run has no use for the journal or resource sampling.
	cfg.Journal.Path = ""
	monitor := false
	cfg.Pool.MonitorResources = &monitor

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	controlPlane, err := fleet.New(cfg, fleet.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer controlPlane.Close(context.WithoutCancel(ctx))

	result, err := controlPlane.Execute(ctx, server, command)
	if err != nil {
		return fmt.Errorf("running %q on %s: %w", command, server, err)
	}

	if jsonOutput || !term.IsTerminal(int(os.Stdout.Fd())) {
		err = writeJSON(os.Stdout, server, command, result)
	} else {
		err = writeText(os.Stdout, result)
		if err == nil {
			writeSummary(os.Stderr, server, result)
		}
	}
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("server rejected %q: %s", command, result.Error)
	}
	return nil
}

func writeJSON(w io.Writer, server, command string, result adapter.CommandResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	lines := result.Output
	if lines == nil {
		lines = []string{}
	}
	return encoder.Encode(output{
		Server:          server,
		Command:         command,
		Success:         result.Success,
		Output:          lines,
		Error:           result.Error,
		ExecutionTimeMS: result.ExecutionTime.Milliseconds(),
	})
}

var (
	summaryStyle = lipgloss.NewStyle().Faint(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// writeSummary prints a one-line outcome after terminal output.
func writeSummary(w io.Writer, server string, result adapter.CommandResult) {
	if !result.Success {
		fmt.Fprintln(w, failureStyle.Render(fmt.Sprintf("%s: command failed: %s", server, result.Error)))
		return
	}
	fmt.Fprintln(w, summaryStyle.Render(fmt.Sprintf("%s: ok in %s", server, result.ExecutionTime.Round(time.Millisecond))))
}

func writeText(w io.Writer, result adapter.CommandResult) error {
	for _, line := range result.Output {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
