// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport opens the raw byte-stream connections that
// stream-oriented adapters (RCON) run their protocol over.
//
// Adapters depend on the [Dialer] interface rather than on net.Dialer so
// that tests and embedding programs can substitute in-memory pipes, SOCKS
// tunnels, or connections that are already open. [TCPDialer] is the
// production implementation.
package transport
