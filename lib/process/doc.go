// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the gamefleet
// binaries: reporting an error from run() before or after the logger
// exists, and exiting.
package process
