// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// RequireReceive returns the next value from ch, failing the test if
// ch closes or nothing arrives within timeout.
//
//	got := testutil.RequireReceive(t, outcome, waitTimeout, "waiting for command result")
func RequireReceive[T any](t interface {
	Helper()
	Fatalf(format string, args ...any)
}, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without sending a value: %s", formatMessage(msgAndArgs))
		}
		return v
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v: %s", timeout, formatMessage(msgAndArgs))
	}
	panic("unreachable")
}

// RequireMatch reads from ch until a value satisfies match, discarding
// the others, or fails the test once timeout has elapsed in total.
//
//	event := testutil.RequireMatch(t, subscription.C(), 5*time.Second,
//		func(n adapter.Notification) bool { return n.Kind == adapter.NotifyConnected },
//		"waiting for connected")
func RequireMatch[T any](t interface {
	Helper()
	Fatalf(format string, args ...any)
}, ch <-chan T, timeout time.Duration, match func(T) bool, msgAndArgs ...any) T {
	t.Helper()
	deadline := time.After(timeout) //nolint:realclock test hang prevention
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed before a matching value: %s", formatMessage(msgAndArgs))
			}
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out after %v: %s", timeout, formatMessage(msgAndArgs))
		}
	}
}

// formatMessage renders a single value or a format string and its
// arguments.
func formatMessage(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return "(no message)"
	}
	if len(msgAndArgs) == 1 {
		if s, ok := msgAndArgs[0].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprintf("%v", msgAndArgs)
}
