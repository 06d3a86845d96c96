// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/gamefleet/lib/clock"
)

const (
	DefaultMaxConnections        = 50
	DefaultMaxConcurrentRequests = 10
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMaxLifetime           = time.Hour
	DefaultIdleTimeout           = 10 * time.Minute
	DefaultHealthCheckInterval   = 30 * time.Second
	DefaultCleanupInterval       = time.Minute
	DefaultStatsInterval         = 10 * time.Second
	DefaultHealthCheckTimeout    = 5 * time.Second

	// responseWindow is the number of recent requests the rolling
	// response time and failure rate are computed over.
	responseWindow = 100
)

// Thresholds classify pool health. A pool is unhealthy when either
// unhealthy threshold is reached, degraded when any degraded threshold
// is reached, and healthy otherwise.
type Thresholds struct {
	DegradedFailureRate  float64
	UnhealthyFailureRate float64
	DegradedUtilization  float64
	UnhealthyUtilization float64
	HostMemoryPercent    float64
}

// DefaultThresholds returns the thresholds used when Options leaves
// them zero.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedFailureRate:  0.1,
		UnhealthyFailureRate: 0.5,
		DegradedUtilization:  0.8,
		UnhealthyUtilization: 0.95,
		HostMemoryPercent:    90,
	}
}

// Options configures a Pool. Zero values select the defaults above.
type Options struct {
	MaxConnections        int
	MaxConcurrentRequests int
	// RequestTimeout bounds a queued request from enqueue to result.
	RequestTimeout time.Duration
	MaxLifetime    time.Duration
	IdleTimeout    time.Duration

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	CleanupInterval     time.Duration
	StatsInterval       time.Duration

	// RateLimit caps requests per second to a single server. Zero
	// disables the limit. RateBurst defaults to 1.
	RateLimit rate.Limit
	RateBurst int

	Thresholds Thresholds

	// Monitor, when set, contributes resource figures to Stats.
	Monitor ResourceSampler

	Clock  clock.Clock
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.MaxConcurrentRequests <= 0 {
		o.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = DefaultMaxLifetime
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = DefaultStatsInterval
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
