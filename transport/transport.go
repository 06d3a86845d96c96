// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// Dialer opens a connection to a game server's remote console.
type Dialer interface {
	// DialContext connects to address ("host:port"). The context bounds
	// the connect phase only.
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// DialContext calls f.
func (f DialerFunc) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}
