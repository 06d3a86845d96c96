// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for gamefleet packages.
//
// [RequireReceive] and [RequireMatch] wait on a channel with a real
// wall-clock timeout so a hung test fails instead of stalling. They are
// the only wall-clock waits in the suite; everything else runs on a
// clock.Fake. RequireMatch skips values until one satisfies its
// predicate, for notification streams where unrelated kinds
// interleave.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation: server ids, request ids, command bodies.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no gamefleet-internal dependencies.
package testutil
