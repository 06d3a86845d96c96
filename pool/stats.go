// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import "time"

// Health is the pool's three-tier health classification.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Stats is a snapshot of pool state.
type Stats struct {
	Time time.Time

	TotalConnections  int
	ActiveConnections int
	IdleConnections   int
	PendingCreations  int
	MaxConnections    int

	QueuedRequests        int
	ActiveRequests        int
	MaxConcurrentRequests int
	CompletedRequests     uint64
	FailedRequests        uint64

	// Utilization is ActiveConnections / MaxConnections.
	Utilization float64
	// AverageResponseTime and FailureRate cover the most recent
	// requests only.
	AverageResponseTime time.Duration
	FailureRate         float64

	Health Health
	// Resources is nil when no sampler is configured or sampling failed.
	Resources *ResourceUsage
}

// Classify returns the health tier for stats under thresholds.
func Classify(stats Stats, thresholds Thresholds) Health {
	if stats.FailureRate >= thresholds.UnhealthyFailureRate ||
		stats.Utilization >= thresholds.UnhealthyUtilization {
		return HealthUnhealthy
	}
	if stats.FailureRate >= thresholds.DegradedFailureRate ||
		stats.Utilization >= thresholds.DegradedUtilization {
		return HealthDegraded
	}
	if stats.Resources != nil && thresholds.HostMemoryPercent > 0 &&
		stats.Resources.HostMemoryPercent >= thresholds.HostMemoryPercent {
		return HealthDegraded
	}
	return HealthHealthy
}

type outcome struct {
	elapsed time.Duration
	failed  bool
}

// outcomeWindow is a ring of the last responseWindow outcomes.
type outcomeWindow struct {
	entries [responseWindow]outcome
	next    int
	count   int
}

func (w *outcomeWindow) add(entry outcome) {
	w.entries[w.next] = entry
	w.next = (w.next + 1) % responseWindow
	if w.count < responseWindow {
		w.count++
	}
}

// summary returns the mean elapsed time and the failed fraction.
func (w *outcomeWindow) summary() (time.Duration, float64) {
	if w.count == 0 {
		return 0, 0
	}
	var total time.Duration
	failed := 0
	for _, entry := range w.entries[:w.count] {
		total += entry.elapsed
		if entry.failed {
			failed++
		}
	}
	return total / time.Duration(w.count), float64(failed) / float64(w.count)
}
