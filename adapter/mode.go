// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"

	"github.com/bureau-foundation/gamefleet/lib/failure"
)

// Mode selects a transport.
type Mode string

const (
	ModeBridge   Mode = "bridge"
	ModeRCON     Mode = "rcon"
	ModeTerminal Mode = "terminal"
)

// Modes lists every mode in the default preference order.
func Modes() []Mode { return []Mode{ModeBridge, ModeRCON, ModeTerminal} }

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeBridge, ModeRCON, ModeTerminal:
		return true
	}
	return false
}

// ParseMode converts a configuration string to a Mode.
func ParseMode(value string) (Mode, error) {
	mode := Mode(value)
	if !mode.Valid() {
		return "", failure.New(failure.Configuration, "parse mode", "unknown connection mode %q", value)
	}
	return mode, nil
}

func (m Mode) String() string { return string(m) }

// defaultCapabilities is what an adapter advertises before the remote
// side says otherwise.
func defaultCapabilities(mode Mode) []string {
	switch mode {
	case ModeBridge:
		return []string{"commands", "events"}
	case ModeRCON:
		return []string{"commands"}
	case ModeTerminal:
		return []string{"commands", "logs", "events"}
	default:
		panic(fmt.Sprintf("adapter: unhandled mode %q", mode))
	}
}
