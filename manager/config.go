// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/failure"
)

// ServerConfig describes one game server: its identity, its primary
// mode, and the configuration for each mode it can be reached by. A nil
// mode configuration makes that mode ineligible.
type ServerConfig struct {
	ID string
	// Mode is the primary mode. When empty, the first configured mode in
	// the manager's preference order is primary.
	Mode adapter.Mode

	Bridge   *adapter.BridgeConfig
	RCON     *adapter.RCONConfig
	Terminal *adapter.TerminalConfig
}

// ConfigFor returns the configuration for mode, or nil.
func (c *ServerConfig) ConfigFor(mode adapter.Mode) adapter.Config {
	switch mode {
	case adapter.ModeBridge:
		if c.Bridge != nil {
			return c.Bridge
		}
	case adapter.ModeRCON:
		if c.RCON != nil {
			return c.RCON
		}
	case adapter.ModeTerminal:
		if c.Terminal != nil {
			return c.Terminal
		}
	}
	return nil
}

// Set stores config in the slot for its mode.
func (c *ServerConfig) Set(config adapter.Config) {
	switch typed := config.(type) {
	case *adapter.BridgeConfig:
		c.Bridge = typed
	case *adapter.RCONConfig:
		c.RCON = typed
	case *adapter.TerminalConfig:
		c.Terminal = typed
	}
}

// Modes lists the configured modes in the given preference order.
func (c *ServerConfig) Modes(preference []adapter.Mode) []adapter.Mode {
	var modes []adapter.Mode
	for _, mode := range preference {
		if c.ConfigFor(mode) != nil {
			modes = append(modes, mode)
		}
	}
	return modes
}

// Primary returns the mode Establish connects first.
func (c *ServerConfig) Primary(preference []adapter.Mode) adapter.Mode {
	if c.Mode != "" {
		return c.Mode
	}
	if modes := c.Modes(preference); len(modes) > 0 {
		return modes[0]
	}
	return ""
}

// Validate checks the server id, the primary mode, and every present
// mode configuration.
func (c *ServerConfig) Validate() error {
	const op = "server config"
	var problems []error
	if c.ID == "" {
		problems = append(problems, errors.New("server id is required"))
	}
	if c.Bridge == nil && c.RCON == nil && c.Terminal == nil {
		problems = append(problems, errors.New("no connection mode is configured"))
	}
	if c.Mode != "" {
		if !c.Mode.Valid() {
			problems = append(problems, fmt.Errorf("unknown primary mode %q", c.Mode))
		} else if c.ConfigFor(c.Mode) == nil {
			problems = append(problems, fmt.Errorf("primary mode %s has no configuration", c.Mode))
		}
	}
	for _, mode := range adapter.Modes() {
		if config := c.ConfigFor(mode); config != nil {
			if err := config.Validate(); err != nil {
				problems = append(problems, err)
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return failure.Wrap(failure.Configuration, op, fmt.Errorf("server %q: %w", c.ID, errors.Join(problems...)))
}
