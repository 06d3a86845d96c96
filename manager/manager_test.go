// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/clock"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/lib/testutil"
)

const waitTimeout = 5 * time.Second

type harness struct {
	manager       *Manager
	fleet         *fakeFleet
	clock         *clock.FakeClock
	notifications *notify.Subscription[adapter.Notification]
}

func newHarness(t *testing.T, fleet *fakeFleet, options Options) *harness {
	t.Helper()
	fake := clock.Fake(epoch)
	options.Clock = fake
	options.Logger = quietLogger()
	options.NewAdapter = fleet.factory
	manager := New(options)
	notifications := manager.Notifications().Subscribe(1024, nil)
	t.Cleanup(func() { manager.Close(context.Background()) })
	return &harness{manager: manager, fleet: fleet, clock: fake, notifications: notifications}
}

func (h *harness) waitFor(t *testing.T, kind adapter.NotificationKind) adapter.Notification {
	t.Helper()
	return testutil.RequireMatch(t, h.notifications.C(), waitTimeout,
		func(n adapter.Notification) bool { return n.Kind == kind }, "waiting for %s", kind)
}

func (h *harness) requireState(t *testing.T, server string, state State, mode adapter.Mode) Status {
	t.Helper()
	status, ok := h.manager.Status(server)
	if !ok {
		t.Fatalf("no status for %s", server)
	}
	if status.State != state || status.Mode != mode {
		t.Fatalf("status = %s/%s, want %s/%s (last error %v)", status.State, status.Mode, state, mode, status.LastError)
	}
	return status
}

func TestEstablishPicksFirstConfiguredMode(t *testing.T) {
	h := newHarness(t, newFakeFleet(), Options{})
	config := allModes("survival")
	config.Bridge = nil

	connected, err := h.manager.Establish(context.Background(), config)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if connected.Mode() != adapter.ModeRCON {
		t.Fatalf("connected in %s, want rcon", connected.Mode())
	}
	h.requireState(t, "survival", StateConnected, adapter.ModeRCON)

	again, err := h.manager.Establish(context.Background(), config)
	if err != nil {
		t.Fatalf("second Establish: %v", err)
	}
	if again != connected || len(h.fleet.attempts()) != 1 {
		t.Fatal("healthy connection was not reused")
	}
	if current, ok := h.manager.Adapter("survival"); !ok || current != connected {
		t.Fatal("Adapter does not return the connected adapter")
	}
}

func TestEstablishHonorsExplicitPrimary(t *testing.T) {
	h := newHarness(t, newFakeFleet(), Options{})
	config := allModes("creative")
	config.Mode = adapter.ModeTerminal

	connected, err := h.manager.Establish(context.Background(), config)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if connected.Mode() != adapter.ModeTerminal {
		t.Fatalf("connected in %s, want terminal", connected.Mode())
	}
}

func TestCascadeTriesRemainingModesInOrder(t *testing.T) {
	h := newHarness(t, newFakeFleet(adapter.ModeBridge, adapter.ModeRCON), Options{})

	connected, err := h.manager.Establish(context.Background(), allModes("survival"))
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if connected.Mode() != adapter.ModeTerminal {
		t.Fatalf("connected in %s, want terminal", connected.Mode())
	}
	want := []adapter.Mode{adapter.ModeBridge, adapter.ModeRCON, adapter.ModeTerminal}
	if got := h.fleet.attempts(); !slices.Equal(got, want) {
		t.Fatalf("attempts = %v, want %v", got, want)
	}
	status := h.requireState(t, "survival", StateConnected, adapter.ModeTerminal)
	if status.SwitchAttempts != 0 || status.RetryCount != 0 || status.LastError != nil {
		t.Fatalf("counters not reset after success: %+v", status)
	}
	switched := h.waitFor(t, adapter.NotifyModeSwitched)
	if switched.Mode != adapter.ModeTerminal || switched.PreviousMode != adapter.ModeBridge {
		t.Fatalf("mode_switched = %s from %s", switched.Mode, switched.PreviousMode)
	}
}

func TestCascadeFollowsPreferenceOrder(t *testing.T) {
	preference := []adapter.Mode{adapter.ModeTerminal, adapter.ModeRCON, adapter.ModeBridge}
	h := newHarness(t, newFakeFleet(adapter.ModeBridge), Options{Preference: preference})
	config := allModes("survival")
	config.Mode = adapter.ModeBridge

	if _, err := h.manager.Establish(context.Background(), config); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	want := []adapter.Mode{adapter.ModeBridge, adapter.ModeTerminal}
	if got := h.fleet.attempts(); !slices.Equal(got, want) {
		t.Fatalf("attempts = %v, want %v", got, want)
	}
}

func TestCascadeSkipsUnconfiguredModes(t *testing.T) {
	h := newHarness(t, newFakeFleet(adapter.ModeBridge), Options{})
	config := allModes("survival")
	config.RCON = nil

	if _, err := h.manager.Establish(context.Background(), config); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	want := []adapter.Mode{adapter.ModeBridge, adapter.ModeTerminal}
	if got := h.fleet.attempts(); !slices.Equal(got, want) {
		t.Fatalf("attempts = %v, want %v", got, want)
	}
}

func TestDisableAutoSwitchOnlyRetries(t *testing.T) {
	h := newHarness(t, newFakeFleet(adapter.ModeBridge), Options{DisableAutoSwitch: true})

	_, err := h.manager.Establish(context.Background(), allModes("survival"))
	if err == nil {
		t.Fatal("Establish succeeded with the primary mode down and auto-switch off")
	}
	if got := h.fleet.attempts(); !slices.Equal(got, []adapter.Mode{adapter.ModeBridge}) {
		t.Fatalf("attempts = %v, want only bridge", got)
	}
	scheduled := h.waitFor(t, adapter.NotifyReconnectScheduled)
	if scheduled.Mode != adapter.ModeBridge || scheduled.Attempt != 1 {
		t.Fatalf("reconnect_scheduled = %+v", scheduled)
	}
	h.requireState(t, "survival", StateError, adapter.ModeBridge)
}

func TestRetryBackoffDoublesUpToCap(t *testing.T) {
	fleet := newFakeFleet(adapter.ModeBridge, adapter.ModeRCON, adapter.ModeTerminal)
	h := newHarness(t, fleet, Options{
		RetryInterval: time.Second,
		MaxBackoff:    10 * time.Second,
		MaxRetries:    10,
	})

	if _, err := h.manager.Establish(context.Background(), allModes("survival")); err == nil {
		t.Fatal("Establish succeeded with every mode down")
	}

	var delays []time.Duration
	for attempt := 1; attempt <= 6; attempt++ {
		scheduled := h.waitFor(t, adapter.NotifyReconnectScheduled)
		if scheduled.Attempt != attempt || scheduled.Mode != adapter.ModeBridge {
			t.Fatalf("reconnect_scheduled = %+v, want attempt %d on bridge", scheduled, attempt)
		}
		delays = append(delays, scheduled.RetryIn)
		h.clock.Advance(scheduled.RetryIn)
	}
	want := []time.Duration{1, 2, 4, 8, 10, 10}
	for index := range want {
		want[index] *= time.Second
	}
	if !slices.Equal(delays, want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}

	// Every cascade visits each mode exactly once.
	h.waitFor(t, adapter.NotifyReconnectScheduled)
	attempts := fleet.attempts()
	if len(attempts)%3 != 0 {
		t.Fatalf("%d attempts is not a whole number of cascades", len(attempts))
	}
	for start := 0; start < len(attempts); start += 3 {
		cascade := attempts[start : start+3]
		if !slices.Equal(cascade, adapter.Modes()) {
			t.Fatalf("cascade %d = %v", start/3, cascade)
		}
	}
}

func TestSuccessfulRetryResetsCounters(t *testing.T) {
	fleet := newFakeFleet(adapter.ModeBridge, adapter.ModeRCON, adapter.ModeTerminal)
	h := newHarness(t, fleet, Options{RetryInterval: time.Second})

	h.manager.Establish(context.Background(), allModes("survival"))
	h.clock.Advance(h.waitFor(t, adapter.NotifyReconnectScheduled).RetryIn)
	second := h.waitFor(t, adapter.NotifyReconnectScheduled)
	if second.Attempt != 2 {
		t.Fatalf("second attempt number = %d", second.Attempt)
	}

	fleet.setFailing(adapter.ModeRCON, false)
	h.clock.Advance(second.RetryIn)
	testutil.RequireMatch(t, h.notifications.C(), waitTimeout, func(n adapter.Notification) bool {
		return n.Kind == adapter.NotifyStateChanged && n.State == string(StateConnected)
	}, "waiting for connected")

	status := h.requireState(t, "survival", StateConnected, adapter.ModeRCON)
	if status.RetryCount != 0 || status.SwitchAttempts != 0 {
		t.Fatalf("counters after success = %+v", status)
	}
}

func TestMaxRetriesGivesUp(t *testing.T) {
	fleet := newFakeFleet(adapter.ModeBridge, adapter.ModeRCON, adapter.ModeTerminal)
	h := newHarness(t, fleet, Options{RetryInterval: time.Second, MaxRetries: 2})

	h.manager.Establish(context.Background(), allModes("survival"))
	h.clock.Advance(h.waitFor(t, adapter.NotifyReconnectScheduled).RetryIn)
	h.clock.Advance(h.waitFor(t, adapter.NotifyReconnectScheduled).RetryIn)

	failed := h.waitFor(t, adapter.NotifyConnectionFailed)
	if failed.Attempt != 2 || failed.Err == nil {
		t.Fatalf("connection_failed = %+v", failed)
	}
	h.requireState(t, "survival", StateError, adapter.ModeTerminal)
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Fatalf("%d timers still pending after giving up", pending)
	}
}

func TestEstablishAfterGivingUpStartsFreshRetries(t *testing.T) {
	fleet := newFakeFleet(adapter.ModeBridge, adapter.ModeRCON, adapter.ModeTerminal)
	h := newHarness(t, fleet, Options{RetryInterval: time.Second, MaxRetries: 1})
	ctx := context.Background()

	h.manager.Establish(ctx, allModes("survival"))
	h.clock.Advance(h.waitFor(t, adapter.NotifyReconnectScheduled).RetryIn)
	h.waitFor(t, adapter.NotifyConnectionFailed)

	if _, err := h.manager.Establish(ctx, allModes("survival")); err == nil {
		t.Fatal("Establish succeeded with every mode down")
	}
	next := testutil.RequireMatch(t, h.notifications.C(), waitTimeout, func(n adapter.Notification) bool {
		return n.Kind == adapter.NotifyReconnectScheduled || n.Kind == adapter.NotifyConnectionFailed
	}, "waiting for the retry decision")
	if next.Kind != adapter.NotifyReconnectScheduled || next.Attempt != 1 || next.RetryIn != time.Second {
		t.Fatalf("after a new Establish got %+v, want a first reconnect", next)
	}
	if status, _ := h.manager.Status("survival"); status.RetryCount != 1 {
		t.Fatalf("retry count = %d", status.RetryCount)
	}
}

func TestReplacedRetryTimerDoesNotRun(t *testing.T) {
	fleet := newFakeFleet(adapter.ModeBridge, adapter.ModeRCON, adapter.ModeTerminal)
	h := newHarness(t, fleet, Options{RetryInterval: time.Second, MaxBackoff: time.Minute})

	h.manager.Establish(context.Background(), allModes("survival"))
	first := h.waitFor(t, adapter.NotifyReconnectScheduled)

	h.manager.mu.Lock()
	e := h.manager.entries["survival"]
	h.manager.mu.Unlock()

	// The first timer fires while another operation holds the entry and
	// schedules its own retry. The fired retry must then stand down.
	e.op.Lock()
	h.clock.Advance(first.RetryIn)
	h.manager.scheduleRetry(e, adapter.ModeBridge)
	e.op.Unlock()

	second := h.waitFor(t, adapter.NotifyReconnectScheduled)
	if second.Attempt != 2 || second.RetryIn != 2*time.Second {
		t.Fatalf("second reconnect = %+v", second)
	}
	h.clock.Advance(second.RetryIn)
	third := h.waitFor(t, adapter.NotifyReconnectScheduled)
	if third.Attempt != 3 {
		t.Fatalf("third reconnect = %+v", third)
	}
	if attempts := fleet.attempts(); len(attempts) != 6 {
		t.Fatalf("attempts = %v, want the initial cascade and one retry", attempts)
	}
}

func TestHealthCheckFailureSwitchesMode(t *testing.T) {
	fleet := newFakeFleet()
	h := newHarness(t, fleet, Options{HealthCheckInterval: 30 * time.Second})
	config := allModes("survival")
	config.Terminal = nil

	if _, err := h.manager.Establish(context.Background(), config); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	bridge := fleet.last()
	bridge.setHealthy(false)

	h.clock.WaitForTimers(1)
	h.clock.Advance(30 * time.Second)

	switched := h.waitFor(t, adapter.NotifyModeSwitched)
	if switched.Mode != adapter.ModeRCON || switched.PreviousMode != adapter.ModeBridge {
		t.Fatalf("mode_switched = %s from %s", switched.Mode, switched.PreviousMode)
	}
	h.requireState(t, "survival", StateConnected, adapter.ModeRCON)
	if bridge.IsConnected() {
		t.Fatal("unhealthy bridge adapter left connected")
	}
}

func TestHealthyAdapterKeepsBeingChecked(t *testing.T) {
	fleet := newFakeFleet()
	h := newHarness(t, fleet, Options{HealthCheckInterval: 10 * time.Second})

	if _, err := h.manager.Establish(context.Background(), allModes("survival")); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	for range 3 {
		h.clock.WaitForTimers(1)
		h.clock.Advance(10 * time.Second)
	}
	h.clock.WaitForTimers(1)
	if got := len(fleet.attempts()); got != 1 {
		t.Fatalf("%d adapters created for a healthy server", got)
	}
	h.requireState(t, "survival", StateConnected, adapter.ModeBridge)
}

func TestUnexpectedDisconnectSwitchesMode(t *testing.T) {
	fleet := newFakeFleet()
	h := newHarness(t, fleet, Options{})
	config := allModes("survival")
	config.Bridge = nil

	if _, err := h.manager.Establish(context.Background(), config); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	fleet.last().drop()

	switched := h.waitFor(t, adapter.NotifyModeSwitched)
	if switched.Mode != adapter.ModeTerminal || switched.PreviousMode != adapter.ModeRCON {
		t.Fatalf("mode_switched = %s from %s", switched.Mode, switched.PreviousMode)
	}
	h.requireState(t, "survival", StateConnected, adapter.ModeTerminal)
}

func TestDisconnectWithNoFallbackSchedulesRetry(t *testing.T) {
	fleet := newFakeFleet()
	h := newHarness(t, fleet, Options{RetryInterval: 3 * time.Second})
	config := ServerConfig{ID: "solo", RCON: &adapter.RCONConfig{Host: "10.0.0.5", Port: 25575, Password: "pw"}}

	if _, err := h.manager.Establish(context.Background(), config); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	fleet.last().drop()

	scheduled := h.waitFor(t, adapter.NotifyReconnectScheduled)
	if scheduled.RetryIn != 3*time.Second || scheduled.Mode != adapter.ModeRCON {
		t.Fatalf("reconnect_scheduled = %+v", scheduled)
	}
	h.clock.Advance(3 * time.Second)
	testutil.RequireMatch(t, h.notifications.C(), waitTimeout, func(n adapter.Notification) bool {
		return n.Kind == adapter.NotifyStateChanged && n.State == string(StateConnected)
	}, "waiting for reconnect")
	if got := len(fleet.attempts()); got != 2 {
		t.Fatalf("%d adapters created, want 2", got)
	}
}

func TestStaleConnectionIsReplaced(t *testing.T) {
	fleet := newFakeFleet()
	h := newHarness(t, fleet, Options{})
	config := allModes("survival")

	first, err := h.manager.Establish(context.Background(), config)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	first.(*fakeAdapter).setHealthy(false)

	second, err := h.manager.Establish(context.Background(), config)
	if err != nil {
		t.Fatalf("second Establish: %v", err)
	}
	if second == first {
		t.Fatal("unhealthy adapter was reused")
	}
	if first.IsConnected() {
		t.Fatal("stale adapter was not disconnected")
	}
}

func TestSwitchMode(t *testing.T) {
	fleet := newFakeFleet()
	h := newHarness(t, fleet, Options{})
	config := allModes("survival")
	config.RCON = nil

	if _, err := h.manager.Establish(context.Background(), config); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	bridge := fleet.last()

	rcon := &adapter.RCONConfig{Host: "127.0.0.1", Port: 25575, Password: "new"}
	if err := h.manager.SwitchMode(context.Background(), "survival", adapter.ModeRCON, rcon); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}
	switched := h.waitFor(t, adapter.NotifyModeSwitched)
	if switched.Mode != adapter.ModeRCON || switched.PreviousMode != adapter.ModeBridge {
		t.Fatalf("mode_switched = %s from %s", switched.Mode, switched.PreviousMode)
	}
	h.requireState(t, "survival", StateConnected, adapter.ModeRCON)
	if bridge.IsConnected() {
		t.Fatal("previous adapter still connected")
	}

	// The stored configuration is used when none is supplied.
	if err := h.manager.SwitchMode(context.Background(), "survival", adapter.ModeTerminal, nil); err != nil {
		t.Fatalf("SwitchMode to stored terminal config: %v", err)
	}
	h.requireState(t, "survival", StateConnected, adapter.ModeTerminal)
}

func TestSwitchModeFailureLeavesError(t *testing.T) {
	fleet := newFakeFleet(adapter.ModeRCON)
	h := newHarness(t, fleet, Options{})

	if _, err := h.manager.Establish(context.Background(), allModes("survival")); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	err := h.manager.SwitchMode(context.Background(), "survival", adapter.ModeRCON, nil)
	if err == nil {
		t.Fatal("SwitchMode to a failing mode succeeded")
	}
	status := h.requireState(t, "survival", StateError, adapter.ModeRCON)
	if status.LastError == nil {
		t.Fatal("last error not recorded")
	}
	if _, ok := h.manager.Adapter("survival"); ok {
		t.Fatal("failed switch left an adapter available")
	}
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Fatalf("%d timers pending after a failed switch", pending)
	}
}

func TestSwitchModeValidation(t *testing.T) {
	h := newHarness(t, newFakeFleet(), Options{})
	config := allModes("survival")
	config.Terminal = nil
	if _, err := h.manager.Establish(context.Background(), config); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	ctx := context.Background()

	err := h.manager.SwitchMode(ctx, "survival", adapter.ModeTerminal, nil)
	if !failure.Is(err, failure.Configuration) {
		t.Fatalf("switch without config: %v", err)
	}
	err = h.manager.SwitchMode(ctx, "survival", adapter.ModeTerminal, &adapter.RCONConfig{Host: "h", Port: 1, Password: "p"})
	if !failure.Is(err, failure.Configuration) {
		t.Fatalf("switch with mismatched config: %v", err)
	}
	err = h.manager.SwitchMode(ctx, "unknown", adapter.ModeRCON, nil)
	if !failure.Is(err, failure.Configuration) {
		t.Fatalf("switch for unknown server: %v", err)
	}
	h.requireState(t, "survival", StateConnected, adapter.ModeBridge)
}

func TestEstablishValidation(t *testing.T) {
	h := newHarness(t, newFakeFleet(), Options{})
	ctx := context.Background()

	tests := []ServerConfig{
		{ID: "empty"},
		{ID: "", RCON: &adapter.RCONConfig{Host: "h", Port: 1, Password: "p"}},
		{ID: "missing-primary", Mode: adapter.ModeBridge, RCON: &adapter.RCONConfig{Host: "h", Port: 1, Password: "p"}},
		{ID: "bad-slice", RCON: &adapter.RCONConfig{Host: "h", Port: 1}},
	}
	for _, config := range tests {
		_, err := h.manager.Establish(ctx, config)
		if !failure.Is(err, failure.Configuration) {
			t.Errorf("Establish(%q) = %v, want configuration error", config.ID, err)
		}
	}
	if len(h.fleet.attempts()) != 0 {
		t.Fatal("invalid configuration reached the adapter factory")
	}
}

func TestDisconnectRemoveAndClose(t *testing.T) {
	fleet := newFakeFleet()
	h := newHarness(t, fleet, Options{})
	ctx := context.Background()

	for _, id := range []string{"alpha", "beta"} {
		if _, err := h.manager.Establish(ctx, allModes(id)); err != nil {
			t.Fatalf("Establish %s: %v", id, err)
		}
	}

	if err := h.manager.Disconnect(ctx, "alpha"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	h.requireState(t, "alpha", StateDisconnected, adapter.ModeBridge)

	if err := h.manager.Remove(ctx, "alpha"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := h.manager.Status("alpha"); ok {
		t.Fatal("removed server still reported")
	}
	statuses := h.manager.Statuses()
	if len(statuses) != 1 || statuses[0].Server != "beta" {
		t.Fatalf("statuses = %+v", statuses)
	}

	beta := fleet.last()
	if err := h.manager.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if beta.IsConnected() {
		t.Fatal("Close left an adapter connected")
	}
	_, err := h.manager.Establish(ctx, allModes("gamma"))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Establish after Close = %v", err)
	}
}

func TestAdapterNotificationsAreForwarded(t *testing.T) {
	fleet := newFakeFleet()
	h := newHarness(t, fleet, Options{})

	if _, err := h.manager.Establish(context.Background(), allModes("survival")); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	connected := h.waitFor(t, adapter.NotifyConnected)
	if connected.Server != "survival" || connected.Mode != adapter.ModeBridge {
		t.Fatalf("forwarded notification = %+v", connected)
	}
	fleet.last().publish(adapter.Notification{Kind: adapter.NotifyLog, Line: "hello"})
	if line := h.waitFor(t, adapter.NotifyLog); line.Line != "hello" {
		t.Fatalf("log line = %q", line.Line)
	}
}

func TestRetryDelay(t *testing.T) {
	options := Options{RetryInterval: time.Second, MaxBackoff: 10 * time.Second}
	for attempt, want := range map[int]time.Duration{
		1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 8 * time.Second, 5: 10 * time.Second, 40: 10 * time.Second,
	} {
		if got := options.RetryDelay(attempt); got != want {
			t.Errorf("RetryDelay(%d) = %s, want %s", attempt, got, want)
		}
	}
	options.DisableBackoff = true
	if got := options.RetryDelay(7); got != time.Second {
		t.Errorf("flat RetryDelay(7) = %s", got)
	}
}

func TestRotateAfter(t *testing.T) {
	got := rotateAfter(adapter.Modes(), adapter.ModeRCON)
	want := []adapter.Mode{adapter.ModeTerminal, adapter.ModeBridge}
	if !slices.Equal(got, want) {
		t.Fatalf("rotateAfter = %v, want %v", got, want)
	}
}
