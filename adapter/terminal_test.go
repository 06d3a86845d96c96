// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/notify"
	"github.com/bureau-foundation/gamefleet/lib/testutil"
	"github.com/bureau-foundation/gamefleet/protocol"
)

// consoleScript behaves like a small game server console.
const consoleScript = `
echo "Done (1.5s)! For help, type \"help\""
echo "console ready" >&2
while IFS= read -r line; do
  case "$line" in
    stop) echo "Stopping server"; exit 0 ;;
    list) echo "There are 0 of a max of 20 players online:"; echo "end of list" ;;
    slow*) echo "start $line"; sleep 0.1; echo "end $line" ;;
    *) echo "got $line" ;;
  esac
done
`

func scriptConfig(script string) *TerminalConfig {
	return &TerminalConfig{
		Command:        "/bin/sh",
		Args:           []string{"-c", script},
		QuietPeriod:    300 * time.Millisecond,
		CommandTimeout: 3 * time.Second,
		StopGrace:      2 * time.Second,
	}
}

func startTerminal(t *testing.T, config *TerminalConfig) (*TerminalAdapter, *notify.Subscription[Notification]) {
	t.Helper()
	adapter := NewTerminal("modded", Options{Logger: quietLogger()})
	subscription := subscribe(t, adapter)
	t.Cleanup(func() { adapter.Disconnect(context.Background()) })
	if err := adapter.Connect(context.Background(), config); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return adapter, subscription
}

func nextMatching(t *testing.T, subscription *notify.Subscription[Notification], match func(Notification) bool, message string) Notification {
	t.Helper()
	return testutil.RequireMatch(t, subscription.C(), waitTimeout, match, message)
}

// waitForConsole waits until the startup lines of consoleScript have
// been read from both streams, so they cannot leak into command output.
func waitForConsole(t *testing.T, subscription *notify.Subscription[Notification]) {
	t.Helper()
	remaining := map[string]bool{`Done (1.5s)! For help, type "help"`: true, "console ready": true}
	for len(remaining) > 0 {
		notification := nextMatching(t, subscription, func(n Notification) bool { return n.Kind == NotifyLog }, "waiting for console startup")
		delete(remaining, notification.Line)
	}
}

func TestTerminalCommandOutput(t *testing.T) {
	adapter, notifications := startTerminal(t, scriptConfig(consoleScript))
	waitForConsole(t, notifications)

	result, err := adapter.SendCommand(context.Background(), "list")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	want := []string{"There are 0 of a max of 20 players online:", "end of list"}
	if !result.Success || !slices.Equal(result.Output, want) {
		t.Fatalf("output = %q, want %q", result.Output, want)
	}
	if result.ExecutionTime < 300*time.Millisecond {
		t.Fatalf("execution time %s shorter than the quiet period", result.ExecutionTime)
	}
	if !adapter.IsHealthy(context.Background()) {
		t.Fatal("running process unhealthy")
	}
}

func TestTerminalOutputNotifications(t *testing.T) {
	_, notifications := startTerminal(t, scriptConfig(consoleScript))

	// The two streams are read independently, so their order is not
	// fixed.
	var started *ServerEvent
	var stderr string
	for started == nil || stderr == "" {
		notification := nextMatching(t, notifications, func(n Notification) bool {
			return n.Kind == NotifyServerEvent || (n.Kind == NotifyLog && n.Stream == "stderr")
		}, "waiting for startup output")
		if notification.Kind == NotifyServerEvent {
			started = notification.Event
		} else {
			stderr = notification.Line
		}
	}
	if started.Kind != ServerStarted || started.StartupTime != 1500*time.Millisecond {
		t.Fatalf("startup event = %+v", started)
	}
	if stderr != "console ready" {
		t.Fatalf("stderr line = %q", stderr)
	}
}

func TestTerminalCommandsRunOneAtATime(t *testing.T) {
	adapter, notifications := startTerminal(t, scriptConfig(consoleScript))
	waitForConsole(t, notifications)

	first := sendCommandAsync(adapter, "slow one")
	second := sendCommandAsync(adapter, "slow two")
	for _, outcome := range []<-chan commandOutcome{first, second} {
		got := testutil.RequireReceive(t, outcome, waitTimeout, "waiting for command")
		if got.err != nil {
			t.Fatalf("SendCommand: %v", got.err)
		}
		if len(got.result.Output) != 2 {
			t.Fatalf("interleaved output %q", got.result.Output)
		}
		name := strings.TrimPrefix(got.result.Output[0], "start ")
		if got.result.Output[1] != "end "+name {
			t.Fatalf("interleaved output %q", got.result.Output)
		}
	}
}

func TestTerminalCancelledCommandIsSkipped(t *testing.T) {
	adapter, notifications := startTerminal(t, scriptConfig(consoleScript))
	waitForConsole(t, notifications)

	inFlight := sendCommandAsync(adapter, "slow blocker")
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := adapter.SendCommand(cancelled, "skipped")
	if err == nil {
		t.Fatal("cancelled command succeeded")
	}
	testutil.RequireReceive(t, inFlight, waitTimeout, "waiting for blocker")

	result, err := adapter.SendCommand(context.Background(), "after")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if !slices.Equal(result.Output, []string{"got after"}) {
		t.Fatalf("output = %q", result.Output)
	}
	for {
		select {
		case notification := <-notifications.C():
			if notification.Line == "got skipped" {
				t.Fatal("cancelled command reached the process")
			}
		default:
			return
		}
	}
}

func TestTerminalGracefulStop(t *testing.T) {
	adapter, notifications := startTerminal(t, scriptConfig(consoleScript))

	if err := adapter.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	stopping := nextMatching(t, notifications, func(n Notification) bool {
		return n.Kind == NotifyServerEvent && n.Event.Kind == ServerStopped
	}, "waiting for stopping line")
	if stopping.Event.Line != "Stopping server" {
		t.Fatalf("stop line = %q", stopping.Event.Line)
	}
	disconnected := nextMatching(t, notifications, func(n Notification) bool { return n.Kind == NotifyDisconnected }, "waiting for exit")
	if !disconnected.Local || disconnected.Code != 0 || disconnected.Err != nil {
		t.Fatalf("disconnect = %+v", disconnected)
	}
	if adapter.IsConnected() || adapter.IsHealthy(context.Background()) {
		t.Fatal("adapter up after stop")
	}
}

func TestTerminalKillsProcessGroupAfterGrace(t *testing.T) {
	// The background sleep holds the output pipe open; only a process
	// group kill lets the adapter finish reading.
	config := scriptConfig(`sleep 30 & while IFS= read -r line; do :; done; wait`)
	config.StopGrace = 200 * time.Millisecond
	adapter, notifications := startTerminal(t, config)

	done := make(chan error, 1)
	go func() { done <- adapter.Disconnect(context.Background()) }()
	if err := testutil.RequireReceive(t, done, waitTimeout, "waiting for Disconnect"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	disconnected := nextMatching(t, notifications, func(n Notification) bool { return n.Kind == NotifyDisconnected }, "waiting for exit")
	if !disconnected.Local || disconnected.Code == 0 {
		t.Fatalf("disconnect = %+v", disconnected)
	}
}

func TestTerminalProcessExitRejectsCommands(t *testing.T) {
	adapter, notifications := startTerminal(t, scriptConfig(`IFS= read -r line; sleep 0.2; exit 3`))

	first := sendCommandAsync(adapter, "one")
	second := sendCommandAsync(adapter, "two")

	disconnected := nextMatching(t, notifications, func(n Notification) bool { return n.Kind == NotifyDisconnected }, "waiting for exit")
	if disconnected.Local || disconnected.Code != 3 || disconnected.Err == nil {
		t.Fatalf("disconnect = %+v", disconnected)
	}

	outcomes := []commandOutcome{
		testutil.RequireReceive(t, first, waitTimeout, "waiting for first"),
		testutil.RequireReceive(t, second, waitTimeout, "waiting for second"),
	}
	rejected := 0
	for _, outcome := range outcomes {
		if outcome.err != nil {
			requireIs(t, outcome.err, ErrConnectionClosed)
			rejected++
		}
	}
	if rejected == 0 {
		t.Fatal("no command was rejected when the process exited")
	}

	_, err := adapter.SendCommand(context.Background(), "three")
	requireIs(t, err, ErrNotConnected)
}

func TestTerminalSendMessage(t *testing.T) {
	adapter, notifications := startTerminal(t, scriptConfig(consoleScript))
	waitForConsole(t, notifications)
	ctx := context.Background()

	request, _ := protocol.NewRequest("r1", protocol.OpCommand, protocol.CommandRequest{Command: "hello"}, time.Now())
	if err := adapter.SendMessage(ctx, request); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	system, _ := protocol.NewSystem("s1", protocol.SystemPing, nil, time.Now())
	requireKind(t, adapter.SendMessage(ctx, system), failure.Unsupported)
	_, err := adapter.SendCommand(ctx, "two\nlines")
	requireKind(t, err, failure.Unsupported)
}

func TestTerminalAttachUnsupported(t *testing.T) {
	adapter := NewTerminal("modded", Options{Logger: quietLogger()})
	err := adapter.Connect(context.Background(), &TerminalConfig{PID: 4242})
	requireKind(t, err, failure.Unsupported)
}

func TestTerminalStartFailure(t *testing.T) {
	adapter := NewTerminal("modded", Options{Logger: quietLogger()})
	err := adapter.Connect(context.Background(), &TerminalConfig{Command: "/nonexistent/server-binary"})
	requireKind(t, err, failure.Transport)
	if adapter.IsConnected() {
		t.Fatal("connected without a process")
	}
}

func TestTerminalPTY(t *testing.T) {
	config := scriptConfig(`echo hello-pty; IFS= read -r line; echo "pty:$line"; IFS= read -r line`)
	config.UsePTY = true
	adapter := NewTerminal("modded", Options{Logger: quietLogger()})
	subscription := subscribe(t, adapter)
	t.Cleanup(func() { adapter.Disconnect(context.Background()) })
	if err := adapter.Connect(context.Background(), config); err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	testutil.RequireMatch(t, subscription.C(), waitTimeout, func(n Notification) bool {
		return n.Kind == NotifyLog && n.Line == "hello-pty"
	}, "waiting for pty output")

	result, err := adapter.SendCommand(context.Background(), "seed")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	// The terminal echoes input, so the command itself may precede the
	// reply.
	if !slices.Contains(result.Output, "pty:seed") {
		t.Fatalf("output = %q", result.Output)
	}
}
