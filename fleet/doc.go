// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet assembles a running control plane from a [config.Config]:
// the connection mode manager, the connection pool that draws adapters
// from it, the optional resource monitor, and the optional lifecycle
// journal.
//
// Both binaries build a [Fleet] and differ only in what they do with
// it: the daemon keeps every server connected and reports status, the
// exec tool runs one command through the pool and exits.
package fleet
