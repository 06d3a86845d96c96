// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"
)

var _ Dialer = (*TCPDialer)(nil)

// TCPDialer opens TCP connections with keepalive enabled, so a server
// that vanishes without a FIN is eventually detected by the read loop.
type TCPDialer struct {
	// Timeout caps the connect phase in addition to the context
	// deadline. Zero means only the context applies.
	Timeout time.Duration

	// KeepAlive is the TCP keepalive period. Zero uses 30 seconds;
	// negative disables keepalive.
	KeepAlive time.Duration
}

// DialContext opens a TCP connection to address.
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	keepAlive := d.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30 * time.Second
	}
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: keepAlive}
	return dialer.DialContext(ctx, "tcp", address)
}
