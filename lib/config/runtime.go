// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Runtime holds process settings that come from the environment rather
// than the config file. Command-line flags override them.
type Runtime struct {
	// ConfigPath is the fleet config file.
	ConfigPath string `env:"GAMEFLEET_CONFIG"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"GAMEFLEET_LOG_LEVEL" envDefault:"info"`
	// LogFormat is text or json.
	LogFormat string `env:"GAMEFLEET_LOG_FORMAT" envDefault:"text"`
}

// LoadRuntime reads Runtime from the process environment.
func LoadRuntime() (Runtime, error) {
	return loadRuntime(env.Options{})
}

// loadRuntime is LoadRuntime with injectable options for tests.
func loadRuntime(options env.Options) (Runtime, error) {
	var runtime Runtime
	if err := env.ParseWithOptions(&runtime, options); err != nil {
		return Runtime{}, fmt.Errorf("parse env: %w", err)
	}
	return runtime, nil
}

// NewLogger builds the stderr logger described by level and format.
func NewLogger(level, format string) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	options := &slog.HandlerOptions{Level: parsed}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	default:
		return nil, fmt.Errorf("log format %q: must be text or json", format)
	}
}
