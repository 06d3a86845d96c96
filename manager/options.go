// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"log/slog"
	"time"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/clock"
)

const (
	DefaultRetryInterval       = 5 * time.Second
	DefaultMaxRetries          = 5
	DefaultMaxBackoff          = 5 * time.Minute
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
)

// AdapterFactory creates a disconnected adapter.
type AdapterFactory func(server string, mode adapter.Mode) (adapter.Adapter, error)

// Options configures a Manager. Zero values select the defaults above.
type Options struct {
	// RetryInterval is the base delay before the first retry.
	RetryInterval time.Duration
	// MaxRetries is the number of scheduled retries before the manager
	// gives up on a server. Negative means retry forever.
	MaxRetries int
	// DisableBackoff makes every retry wait RetryInterval.
	DisableBackoff bool
	// MaxBackoff caps the exponential delay.
	MaxBackoff time.Duration

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// DisableAutoSwitch stops the manager from trying other modes when
	// a connection fails; it only retries the primary mode.
	DisableAutoSwitch bool
	// Preference orders modes for cascades and for choosing a primary
	// mode. Modes missing from it are never tried automatically.
	Preference []adapter.Mode

	Clock  clock.Clock
	Logger *slog.Logger

	// AdapterOptions is passed to adapter.New. Its Clock and Logger
	// default to the manager's.
	AdapterOptions adapter.Options
	// NewAdapter replaces adapter.New.
	NewAdapter AdapterFactory
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if len(o.Preference) == 0 {
		o.Preference = adapter.Modes()
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.AdapterOptions.Clock == nil {
		o.AdapterOptions.Clock = o.Clock
	}
	if o.AdapterOptions.Logger == nil {
		o.AdapterOptions.Logger = o.Logger
	}
	if o.NewAdapter == nil {
		adapterOptions := o.AdapterOptions
		o.NewAdapter = func(server string, mode adapter.Mode) (adapter.Adapter, error) {
			return adapter.New(server, mode, adapterOptions)
		}
	}
	return o
}

// RetryDelay returns the wait before retry number attempt (1-based).
func (o Options) RetryDelay(attempt int) time.Duration {
	if o.DisableBackoff {
		return o.RetryInterval
	}
	if attempt <= 1 {
		return min(o.RetryInterval, o.MaxBackoff)
	}
	delay := o.RetryInterval
	for range attempt - 1 {
		delay *= 2
		if delay >= o.MaxBackoff || delay <= 0 {
			return o.MaxBackoff
		}
	}
	return delay
}
