// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/bureau-foundation/gamefleet/lib/failure"
)

// Error reports a malformed frame or packet.
type Error struct {
	// Format is "bridge" or "rcon".
	Format string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s protocol: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s protocol: %s", e.Format, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func bridgeError(err error, format string, args ...any) error {
	return &failure.Error{
		Kind: failure.Protocol,
		Err:  &Error{Format: "bridge", Reason: fmt.Sprintf(format, args...), Err: err},
	}
}

func rconError(format string, args ...any) error {
	return &failure.Error{
		Kind: failure.Protocol,
		Err:  &Error{Format: "rcon", Reason: fmt.Sprintf(format, args...)},
	}
}
