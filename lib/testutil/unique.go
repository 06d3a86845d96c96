// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now() when
// tests need identifiers that must not collide across tests sharing a
// manager or pool.
//
//	server := testutil.UniqueID("server")   // "server-1", "server-2", ...
//	command := testutil.UniqueID("say hi")  // "say hi-3", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
