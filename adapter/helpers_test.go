// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/lib/testutil"
)

const waitTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func subscribe(t *testing.T, adapter Adapter) *notify.Subscription[Notification] {
	t.Helper()
	subscription := adapter.Notifications().Subscribe(256, nil)
	t.Cleanup(subscription.Close)
	return subscription
}

func waitFor(t *testing.T, subscription *notify.Subscription[Notification], kind NotificationKind) Notification {
	t.Helper()
	return testutil.RequireMatch(t, subscription.C(), waitTimeout,
		func(n Notification) bool { return n.Kind == kind }, "waiting for %s notification", kind)
}

func requireKind(t *testing.T, err error, kind failure.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if !failure.Is(err, kind) {
		t.Fatalf("error %q is not a %s error", err, kind)
	}
}

func requireIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error %v does not wrap %v", err, target)
	}
}
