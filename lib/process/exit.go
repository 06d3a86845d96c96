// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors returned by run().
func Fatal(err error) {
	report(os.Stderr, err)
	os.Exit(1)
}

// ExitCode returns the exit status for err: 0 for nil, 1 otherwise.
// Binaries that must flush output before exiting call this instead of
// Fatal.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	report(os.Stderr, err)
	return 1
}

func report(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}
