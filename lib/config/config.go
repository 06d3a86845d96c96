// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Connection mode names accepted in server entries and preference lists.
const (
	ModeBridge   = "bridge"
	ModeRCON     = "rcon"
	ModeTerminal = "terminal"
)

// Journal compression names.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Config is the fleet configuration file.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	Manager ManagerConfig `yaml:"manager"`
	Pool    PoolConfig    `yaml:"pool"`
	Journal JournalConfig `yaml:"journal"`

	// Servers lists every managed game server.
	Servers []ServerConfig `yaml:"servers"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Only fields set in the override replace base values.
type ConfigOverrides struct {
	Manager *ManagerConfig `yaml:"manager,omitempty"`
	Pool    *PoolConfig    `yaml:"pool,omitempty"`
	Journal *JournalConfig `yaml:"journal,omitempty"`
}

// ManagerConfig tunes the connection mode manager.
type ManagerConfig struct {
	RetryInterval Duration `yaml:"retry_interval"`
	// MaxRetries is the number of scheduled retries before a server is
	// given up on. -1 retries forever, which production rejects.
	MaxRetries *int `yaml:"max_retries"`
	// Backoff doubles the retry delay on each attempt. Default: true.
	Backoff    *bool    `yaml:"backoff"`
	MaxBackoff Duration `yaml:"max_backoff"`

	HealthCheckInterval Duration `yaml:"health_check_interval"`
	HealthCheckTimeout  Duration `yaml:"health_check_timeout"`

	// AutoSwitch lets the manager fall back to other configured modes.
	// Default: true.
	AutoSwitch *bool `yaml:"auto_switch"`
	// Preference orders modes for fallback. Default: bridge, rcon, terminal.
	Preference []string `yaml:"preference"`
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxConnections        int      `yaml:"max_connections"`
	MaxConcurrentRequests int      `yaml:"max_concurrent_requests"`
	RequestTimeout        Duration `yaml:"request_timeout"`
	MaxLifetime           Duration `yaml:"max_lifetime"`
	IdleTimeout           Duration `yaml:"idle_timeout"`
	HealthCheckInterval   Duration `yaml:"health_check_interval"`
	CleanupInterval       Duration `yaml:"cleanup_interval"`
	StatsInterval         Duration `yaml:"stats_interval"`

	// RateLimit caps requests per second to one server. Zero disables.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// MonitorResources adds process and host resource figures to pool
	// stats. Default: true.
	MonitorResources *bool `yaml:"monitor_resources"`
	// HostMemoryThreshold is the host memory use, in percent, at which
	// the pool reports itself degraded.
	HostMemoryThreshold float64 `yaml:"host_memory_threshold"`
}

// JournalConfig configures the lifecycle audit journal. An empty Path
// disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
	// Compression is one of none, zstd, lz4. Default: zstd.
	Compression string `yaml:"compression"`
}

// ServerConfig is one managed game server. At least one of Bridge,
// RCON, and Terminal must be present.
type ServerConfig struct {
	ID string `yaml:"id"`
	// Mode is the primary mode. When empty the first configured mode in
	// the manager preference order is used.
	Mode string `yaml:"mode"`

	Bridge   *BridgeConfig   `yaml:"bridge,omitempty"`
	RCON     *RCONConfig     `yaml:"rcon,omitempty"`
	Terminal *TerminalConfig `yaml:"terminal,omitempty"`
}

// BridgeConfig reaches a server through its plugin's WebSocket bridge.
type BridgeConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	Path              string   `yaml:"path"`
	TLS               bool     `yaml:"tls"`
	Token             string   `yaml:"token"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
}

// RCONConfig reaches a server over the RCON protocol.
type RCONConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Password string   `yaml:"password"`
	Timeout  Duration `yaml:"timeout"`
}

// TerminalConfig runs the server process and drives its console.
type TerminalConfig struct {
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	WorkingDir     string            `yaml:"working_dir"`
	Env            map[string]string `yaml:"env"`
	PID            int               `yaml:"pid"`
	PTY            bool              `yaml:"pty"`
	QuietPeriod    Duration          `yaml:"quiet_period"`
	CommandTimeout Duration          `yaml:"command_timeout"`
	StopCommand    string            `yaml:"stop_command"`
	StopGrace      Duration          `yaml:"stop_grace"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// Durations left zero take the defaults of the component they
// configure.
func Default() *Config {
	// The decoder writes through non-nil pointers, so every pointer
	// field needs its own variable.
	maxRetries, backoff, autoSwitch, monitor := 5, true, true, true
	return &Config{
		Environment: Development,
		Manager: ManagerConfig{
			MaxRetries: &maxRetries,
			Backoff:    &backoff,
			AutoSwitch: &autoSwitch,
			Preference: []string{ModeBridge, ModeRCON, ModeTerminal},
		},
		Pool: PoolConfig{
			MonitorResources: &monitor,
		},
		Journal: JournalConfig{
			Compression: CompressionZstd,
		},
	}
}

// Load loads configuration from the GAMEFLEET_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if GAMEFLEET_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("GAMEFLEET_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("GAMEFLEET_CONFIG environment variable not set; " +
			"set it to the path of your fleet config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are read as JSON with comments; anything else as
// YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${VAR} references in secrets, commands, and paths.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is YAML, so one decoder handles both once comments and
		// trailing commas are gone.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Manager != nil {
		c.Manager.merge(overrides.Manager)
	}
	if overrides.Pool != nil {
		c.Pool.merge(overrides.Pool)
	}
	if overrides.Journal != nil {
		if overrides.Journal.Path != "" {
			c.Journal.Path = overrides.Journal.Path
		}
		if overrides.Journal.Compression != "" {
			c.Journal.Compression = overrides.Journal.Compression
		}
	}
}

func (m *ManagerConfig) merge(override *ManagerConfig) {
	if override.RetryInterval != 0 {
		m.RetryInterval = override.RetryInterval
	}
	if override.MaxRetries != nil {
		m.MaxRetries = override.MaxRetries
	}
	if override.Backoff != nil {
		m.Backoff = override.Backoff
	}
	if override.MaxBackoff != 0 {
		m.MaxBackoff = override.MaxBackoff
	}
	if override.HealthCheckInterval != 0 {
		m.HealthCheckInterval = override.HealthCheckInterval
	}
	if override.HealthCheckTimeout != 0 {
		m.HealthCheckTimeout = override.HealthCheckTimeout
	}
	if override.AutoSwitch != nil {
		m.AutoSwitch = override.AutoSwitch
	}
	if len(override.Preference) > 0 {
		m.Preference = override.Preference
	}
}

func (p *PoolConfig) merge(override *PoolConfig) {
	if override.MaxConnections != 0 {
		p.MaxConnections = override.MaxConnections
	}
	if override.MaxConcurrentRequests != 0 {
		p.MaxConcurrentRequests = override.MaxConcurrentRequests
	}
	if override.RequestTimeout != 0 {
		p.RequestTimeout = override.RequestTimeout
	}
	if override.MaxLifetime != 0 {
		p.MaxLifetime = override.MaxLifetime
	}
	if override.IdleTimeout != 0 {
		p.IdleTimeout = override.IdleTimeout
	}
	if override.HealthCheckInterval != 0 {
		p.HealthCheckInterval = override.HealthCheckInterval
	}
	if override.CleanupInterval != 0 {
		p.CleanupInterval = override.CleanupInterval
	}
	if override.StatsInterval != 0 {
		p.StatsInterval = override.StatsInterval
	}
	if override.RateLimit != 0 {
		p.RateLimit = override.RateLimit
	}
	if override.RateBurst != 0 {
		p.RateBurst = override.RateBurst
	}
	if override.MonitorResources != nil {
		p.MonitorResources = override.MonitorResources
	}
	if override.HostMemoryThreshold != 0 {
		p.HostMemoryThreshold = override.HostMemoryThreshold
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// secrets, commands, arguments, and paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Journal.Path = expandVars(c.Journal.Path, vars)
	for index := range c.Servers {
		server := &c.Servers[index]
		if server.Bridge != nil {
			server.Bridge.Token = expandVars(server.Bridge.Token, vars)
		}
		if server.RCON != nil {
			server.RCON.Password = expandVars(server.RCON.Password, vars)
		}
		if terminal := server.Terminal; terminal != nil {
			terminal.Command = expandVars(terminal.Command, vars)
			terminal.WorkingDir = expandVars(terminal.WorkingDir, vars)
			for argIndex, arg := range terminal.Args {
				terminal.Args[argIndex] = expandVars(arg, vars)
			}
			for key, value := range terminal.Env {
				terminal.Env[key] = expandVars(value, vars)
			}
		}
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	modes := []string{ModeBridge, ModeRCON, ModeTerminal}
	seenModes := make(map[string]bool)
	for _, mode := range c.Manager.Preference {
		if !slices.Contains(modes, mode) {
			errs = append(errs, fmt.Errorf("manager.preference: unknown mode %q", mode))
		} else if seenModes[mode] {
			errs = append(errs, fmt.Errorf("manager.preference: %s listed twice", mode))
		}
		seenModes[mode] = true
	}
	if c.Manager.MaxRetries != nil && *c.Manager.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("manager.max_retries must be -1 or more"))
	}
	if c.Environment == Production && c.Manager.MaxRetries != nil && *c.Manager.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("manager.max_retries: unbounded retries are not allowed in production"))
	}

	if c.Pool.MaxConnections < 0 || c.Pool.MaxConcurrentRequests < 0 {
		errs = append(errs, fmt.Errorf("pool sizes must not be negative"))
	}
	if c.Pool.RateLimit < 0 || c.Pool.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("pool.rate_limit and pool.rate_burst must not be negative"))
	}
	if c.Pool.HostMemoryThreshold < 0 || c.Pool.HostMemoryThreshold > 100 {
		errs = append(errs, fmt.Errorf("pool.host_memory_threshold must be between 0 and 100"))
	}

	compressions := []string{CompressionNone, CompressionZstd, CompressionLZ4}
	if !slices.Contains(compressions, c.Journal.Compression) {
		errs = append(errs, fmt.Errorf("journal.compression must be one of: %v", compressions))
	}

	if len(c.Servers) == 0 {
		errs = append(errs, fmt.Errorf("servers: at least one server is required"))
	}
	seenServers := make(map[string]bool)
	for index, server := range c.Servers {
		if server.ID != "" && seenServers[server.ID] {
			errs = append(errs, fmt.Errorf("servers[%d]: duplicate id %q", index, server.ID))
		}
		seenServers[server.ID] = true
		if err := server.validate(c.Environment); err != nil {
			errs = append(errs, fmt.Errorf("servers[%d]: %w", index, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (s *ServerConfig) validate(environment Environment) error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if s.Bridge == nil && s.RCON == nil && s.Terminal == nil {
		errs = append(errs, fmt.Errorf("%s: one of bridge, rcon, or terminal is required", s.ID))
	}
	switch s.Mode {
	case "":
	case ModeBridge, ModeRCON, ModeTerminal:
		if !s.hasMode(s.Mode) {
			errs = append(errs, fmt.Errorf("%s: mode %s has no %s section", s.ID, s.Mode, s.Mode))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown mode %q", s.ID, s.Mode))
	}

	if bridge := s.Bridge; bridge != nil {
		if bridge.Host == "" || bridge.Port <= 0 || bridge.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s: bridge.host and a valid bridge.port are required", s.ID))
		}
		if environment == Production && !bridge.TLS && !isLoopback(bridge.Host) {
			errs = append(errs, fmt.Errorf("%s: bridge to %s must use tls in production", s.ID, bridge.Host))
		}
	}
	if rcon := s.RCON; rcon != nil {
		if rcon.Host == "" || rcon.Port <= 0 || rcon.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s: rcon.host and a valid rcon.port are required", s.ID))
		}
		if rcon.Password == "" {
			errs = append(errs, fmt.Errorf("%s: rcon.password is required", s.ID))
		}
	}
	if terminal := s.Terminal; terminal != nil {
		if terminal.Command == "" && terminal.PID == 0 {
			errs = append(errs, fmt.Errorf("%s: terminal.command is required", s.ID))
		}
	}
	return errors.Join(errs...)
}

func (s *ServerConfig) hasMode(mode string) bool {
	switch mode {
	case ModeBridge:
		return s.Bridge != nil
	case ModeRCON:
		return s.RCON != nil
	case ModeTerminal:
		return s.Terminal != nil
	}
	return false
}

// Server returns the server entry with the given id.
func (c *Config) Server(id string) (ServerConfig, bool) {
	for _, server := range c.Servers {
		if server.ID == id {
			return server, true
		}
	}
	return ServerConfig{}, false
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
