// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small network helpers shared by the adapters:
// classifying the errors a read loop sees when a peer goes away, and
// extracting diagnostics from a failed WebSocket upgrade.
package netutil
