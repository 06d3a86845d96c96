// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/gamefleet/lib/failure"
)

// Config is the connection configuration for one mode. It is a closed
// union: the only implementations are *BridgeConfig, *RCONConfig, and
// *TerminalConfig, and code that needs the concrete variant switches on
// the type.
type Config interface {
	// Mode names the variant.
	Mode() Mode

	// Validate reports missing or out-of-range fields as a
	// failure.Configuration error.
	Validate() error

	connectionConfig()
}

// Defaults applied when a duration field is zero.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultRCONTimeout       = 10 * time.Second
	DefaultQuietPeriod       = time.Second
	DefaultCommandTimeout    = 10 * time.Second
	DefaultStopGrace         = 10 * time.Second
	DefaultStopCommand       = "stop"
)

// BridgeConfig configures a WebSocket bridge connection.
type BridgeConfig struct {
	Host string
	Port int
	// Path is the WebSocket endpoint path, "/" when empty.
	Path string
	TLS  bool
	// Token, when set, is sent as a bearer token on the upgrade request.
	Token string

	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	HandshakeTimeout  time.Duration
}

func (*BridgeConfig) Mode() Mode        { return ModeBridge }
func (*BridgeConfig) connectionConfig() {}

func (c *BridgeConfig) Validate() error {
	var problems []error
	if c.Host == "" {
		problems = append(problems, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.HeartbeatInterval < 0 || c.RequestTimeout < 0 || c.HandshakeTimeout < 0 {
		problems = append(problems, errors.New("durations must not be negative"))
	}
	return configurationError(ModeBridge, problems)
}

// URL returns the WebSocket URL.
func (c *BridgeConfig) URL() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	path := c.Path
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	endpoint := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   path,
	}
	return endpoint.String()
}

func (c *BridgeConfig) withDefaults() *BridgeConfig {
	resolved := *c
	resolved.HeartbeatInterval = orDefault(c.HeartbeatInterval, DefaultHeartbeatInterval)
	resolved.RequestTimeout = orDefault(c.RequestTimeout, DefaultRequestTimeout)
	resolved.HandshakeTimeout = orDefault(c.HandshakeTimeout, DefaultHandshakeTimeout)
	return &resolved
}

// RCONConfig configures a remote-console connection.
type RCONConfig struct {
	Host     string
	Port     int
	Password string
	// Timeout bounds the connect phase, the login exchange, and each
	// command.
	Timeout time.Duration
}

func (*RCONConfig) Mode() Mode        { return ModeRCON }
func (*RCONConfig) connectionConfig() {}

func (c *RCONConfig) Validate() error {
	var problems []error
	if c.Host == "" {
		problems = append(problems, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Password == "" {
		problems = append(problems, errors.New("password is required"))
	}
	if c.Timeout < 0 {
		problems = append(problems, errors.New("timeout must not be negative"))
	}
	return configurationError(ModeRCON, problems)
}

// Address returns host:port.
func (c *RCONConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *RCONConfig) withDefaults() *RCONConfig {
	resolved := *c
	resolved.Timeout = orDefault(c.Timeout, DefaultRCONTimeout)
	return &resolved
}

// TerminalConfig configures a process whose stdio is the console.
type TerminalConfig struct {
	Command    string
	Args       []string
	WorkingDir string
	// Env entries ("KEY=value") are appended to the daemon's environment.
	Env []string

	// PID names an already-running process to attach to. Attaching is
	// not supported; a non-zero PID makes Connect fail.
	PID int

	// UsePTY runs the process on a pseudo-terminal instead of pipes.
	// Some servers only print their console prompt and colors to a TTY.
	UsePTY bool

	// QuietPeriod is how long the process must stay silent after a
	// command before its output is considered complete.
	QuietPeriod time.Duration
	// CommandTimeout caps the wait for a quiet period.
	CommandTimeout time.Duration
	// StopCommand is written on graceful disconnect.
	StopCommand string
	// StopGrace is how long to wait for exit after StopCommand before
	// killing the process group.
	StopGrace time.Duration
}

func (*TerminalConfig) Mode() Mode        { return ModeTerminal }
func (*TerminalConfig) connectionConfig() {}

func (c *TerminalConfig) Validate() error {
	var problems []error
	if c.Command == "" && c.PID == 0 {
		problems = append(problems, errors.New("command is required"))
	}
	if c.QuietPeriod < 0 || c.CommandTimeout < 0 || c.StopGrace < 0 {
		problems = append(problems, errors.New("durations must not be negative"))
	}
	return configurationError(ModeTerminal, problems)
}

func (c *TerminalConfig) withDefaults() *TerminalConfig {
	resolved := *c
	resolved.QuietPeriod = orDefault(c.QuietPeriod, DefaultQuietPeriod)
	resolved.CommandTimeout = orDefault(c.CommandTimeout, DefaultCommandTimeout)
	resolved.StopGrace = orDefault(c.StopGrace, DefaultStopGrace)
	if resolved.StopCommand == "" {
		resolved.StopCommand = DefaultStopCommand
	}
	return &resolved
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}

func configurationError(mode Mode, problems []error) error {
	if len(problems) == 0 {
		return nil
	}
	return failure.Wrap(failure.Configuration, string(mode)+" config", errors.Join(problems...))
}
