// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/failure"
)

// cascadeFrom returns the modes a cascade starting at primary visits:
// primary, then (with auto-switch on) the preference order.
func (m *Manager) cascadeFrom(primary adapter.Mode) []adapter.Mode {
	order := []adapter.Mode{primary}
	if !m.options.DisableAutoSwitch {
		order = append(order, m.options.Preference...)
	}
	return order
}

// cascade tries each mode in order that is configured and not in tried,
// and returns the first adapter that connects or every attempt's error.
// Modes other than from count as switch attempts. Caller holds e.op.
func (m *Manager) cascade(ctx context.Context, e *entry, from adapter.Mode, order []adapter.Mode, tried map[adapter.Mode]bool) (adapter.Adapter, error) {
	if tried == nil {
		tried = make(map[adapter.Mode]bool)
	}
	e.mu.Lock()
	config := e.config
	e.mu.Unlock()

	var errs []error
	for _, mode := range order {
		if tried[mode] || config.ConfigFor(mode) == nil {
			continue
		}
		tried[mode] = true
		if mode != from {
			e.mu.Lock()
			e.switchAttempts++
			e.mu.Unlock()
			m.logger.Info("trying fallback mode", "server_id", e.id, "mode", string(mode), "from", string(from))
			m.publish(e, adapter.Notification{Kind: adapter.NotifyModeSwitching, Mode: mode, PreviousMode: from})
		}
		connected, err := m.connect(ctx, e, mode)
		if err == nil {
			if mode != from {
				m.publish(e, adapter.Notification{Kind: adapter.NotifyModeSwitched, Mode: mode, PreviousMode: from})
			}
			return connected, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", mode, err))
		if ctx.Err() != nil || failure.Is(err, failure.Capacity) {
			break
		}
	}
	if len(errs) == 0 {
		return nil, failure.New(failure.Configuration, "establish", "server %q has no untried configured mode", e.id)
	}
	return nil, errors.Join(errs...)
}

// connect builds and connects one adapter. On success it becomes the
// entry's adapter, the counters reset, and health checks start. On
// failure the entry is left in error. Caller holds e.op.
func (m *Manager) connect(ctx context.Context, e *entry, mode adapter.Mode) (adapter.Adapter, error) {
	e.mu.Lock()
	config := e.config.ConfigFor(mode)
	switching := e.state == StateSwitching
	e.mode = mode
	e.mu.Unlock()
	if !switching {
		m.setState(e, StateConnecting)
	}

	gate := m.currentGate()
	if gate != nil {
		if err := gate.Admit(e.id); err != nil {
			m.recordFailure(e, err)
			return nil, err
		}
	}
	created, err := m.options.NewAdapter(e.id, mode)
	if err != nil {
		settle(gate, e.id, nil)
		m.recordFailure(e, err)
		return nil, err
	}
	removeHandler := created.Notifications().Handle(func(notification adapter.Notification) {
		m.forward(e, created, notification)
	})
	if err := created.Connect(ctx, config); err != nil {
		removeHandler()
		settle(gate, e.id, nil)
		m.recordFailure(e, err)
		return nil, err
	}

	e.mu.Lock()
	e.generation++
	e.adapter = created
	e.removeHandler = removeHandler
	e.retryCount = 0
	e.switchAttempts = 0
	e.lastError = nil
	e.mu.Unlock()

	settle(gate, e.id, created)
	m.logger.Info("server connected", "server_id", e.id, "mode", string(mode))
	m.setState(e, StateConnected)
	m.scheduleHealthCheck(e)
	return created, nil
}

func settle(gate Gate, server string, connected adapter.Adapter) {
	if gate != nil {
		gate.Settle(server, connected)
	}
}

func (m *Manager) recordFailure(e *entry, err error) {
	e.mu.Lock()
	e.lastError = err
	e.mu.Unlock()
	m.setState(e, StateError)
}

// forward re-publishes an adapter notification and turns an unexpected
// disconnect into failure handling.
func (m *Manager) forward(e *entry, source adapter.Adapter, notification adapter.Notification) {
	m.hub.Publish(notification)
	if notification.Kind != adapter.NotifyDisconnected || notification.Local {
		return
	}
	cause := notification.Err
	if cause == nil {
		cause = fmt.Errorf("%s connection closed: %s", source.Mode(), notification.Reason)
	}
	go m.handleFailure(e, source, cause)
}

// scheduleRetry arranges a retry of mode, or gives up once MaxRetries
// retries have run. Caller holds e.op.
func (m *Manager) scheduleRetry(e *entry, mode adapter.Mode) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	if m.options.MaxRetries >= 0 && e.retryCount >= m.options.MaxRetries {
		attempts := e.retryCount
		lastError := e.lastError
		e.gaveUp = true
		e.mu.Unlock()
		m.logger.Error("giving up on server", "server_id", e.id, "retries", attempts, "error", lastError)
		m.setState(e, StateError)
		m.publish(e, adapter.Notification{
			Kind:    adapter.NotifyConnectionFailed,
			Mode:    mode,
			Err:     lastError,
			Attempt: attempts,
		})
		return
	}
	e.retryCount++
	attempt := e.retryCount
	delay := m.options.RetryDelay(attempt)
	generation := e.generation
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryToken++
	token := e.retryToken
	e.retryTimer = m.clock.AfterFunc(delay, func() {
		go m.retry(e, generation, token, mode)
	})
	e.mu.Unlock()

	m.logger.Info("reconnect scheduled", "server_id", e.id, "mode", string(mode), "attempt", attempt, "delay", delay)
	m.publish(e, adapter.Notification{
		Kind:    adapter.NotifyReconnectScheduled,
		Mode:    mode,
		RetryIn: delay,
		Attempt: attempt,
	})
}

func (m *Manager) retry(e *entry, generation, token uint64, mode adapter.Mode) {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	stale := e.removed || e.generation != generation || e.retryToken != token
	if !stale {
		e.retryTimer = nil
	}
	e.mu.Unlock()
	if stale {
		return
	}

	if _, err := m.cascade(context.Background(), e, mode, m.cascadeFrom(mode), nil); err != nil {
		m.logger.Warn("reconnect failed", "server_id", e.id, "mode", string(mode), "error", err)
		m.scheduleRetry(e, mode)
	}
}

// scheduleHealthCheck arms the next check of the current adapter.
func (m *Manager) scheduleHealthCheck(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adapter == nil || e.removed {
		return
	}
	generation := e.generation
	checked := e.adapter
	if e.healthTimer != nil {
		e.healthTimer.Stop()
	}
	e.healthTimer = m.clock.AfterFunc(m.options.HealthCheckInterval, func() {
		go m.checkHealth(e, generation, checked)
	})
}

func (m *Manager) checkHealth(e *entry, generation uint64, checked adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), m.options.HealthCheckTimeout)
	defer cancel()

	healthy := make(chan bool, 1)
	go func() { healthy <- checked.IsHealthy(ctx) }()
	var ok bool
	select {
	case ok = <-healthy:
	case <-ctx.Done():
	}

	e.mu.Lock()
	current := e.generation == generation && !e.removed
	e.mu.Unlock()
	if !current {
		return
	}
	if ok {
		m.scheduleHealthCheck(e)
		return
	}
	m.handleFailure(e, checked, failure.New(failure.Timeout, "health check",
		"%s connection failed its health check", checked.Mode()))
}

// handleFailure tears down a failed adapter and looks for another way
// in, starting with the mode after the failed one.
func (m *Manager) handleFailure(e *entry, failed adapter.Adapter, cause error) {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	stale := e.adapter != failed || e.removed
	primary := e.config.Primary(m.options.Preference)
	e.mu.Unlock()
	if stale {
		return
	}

	failedMode := failed.Mode()
	m.logger.Warn("connection lost", "server_id", e.id, "mode", string(failedMode), "error", cause)
	m.recordFailure(e, cause)
	ctx := context.Background()
	m.teardown(ctx, e)

	if !m.options.DisableAutoSwitch {
		tried := map[adapter.Mode]bool{failedMode: true}
		_, err := m.cascade(ctx, e, failedMode, rotateAfter(m.options.Preference, failedMode), tried)
		if err == nil {
			return
		}
		if !failure.Is(err, failure.Configuration) {
			m.recordFailure(e, fmt.Errorf("%w; fallback: %w", cause, err))
		}
	}
	m.scheduleRetry(e, primary)
}

// rotateAfter returns preference starting just after mode, wrapping
// around, without mode itself.
func rotateAfter(preference []adapter.Mode, mode adapter.Mode) []adapter.Mode {
	index := slices.Index(preference, mode)
	if index < 0 {
		return slices.Clone(preference)
	}
	rotated := make([]adapter.Mode, 0, len(preference)-1)
	rotated = append(rotated, preference[index+1:]...)
	rotated = append(rotated, preference[:index]...)
	return rotated
}
