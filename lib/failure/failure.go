// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package failure classifies connection errors.
//
// Every error that crosses a package boundary in the connection stack is
// either a *Error carrying a [Kind] or wraps one. Callers branch on the
// kind, never on message text:
//
//	if failure.Is(err, failure.Authentication) {
//	    // wrong password or silent server: do not retry blindly
//	}
//
// The kinds mirror the places a connection can fail: configuration
// (missing or invalid mode config), authentication, protocol framing,
// transport (socket or process), timeouts, pool capacity, and operations
// the chosen transport cannot perform.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the category of a connection failure.
type Kind int

const (
	Unknown Kind = iota
	Configuration
	Authentication
	Protocol
	Transport
	Timeout
	Capacity
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Authentication:
		return "authentication"
	case Protocol:
		return "protocol"
	case Transport:
		return "transport"
	case Timeout:
		return "timeout"
	case Capacity:
		return "capacity"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed
// ("rcon connect", "pool get"); Err is the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a formatted cause. The format
// string accepts %w.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// Unknown.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Unknown
}

// Is reports whether any *Error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var classified *Error
		if !errors.As(err, &classified) {
			return false
		}
		if classified.Kind == kind {
			return true
		}
		err = classified.Err
	}
	return false
}
