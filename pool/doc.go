// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool multiplexes requests across many game servers behind a
// bounded set of live adapters.
//
// A [Pool] holds at most MaxConnections adapters, one per server,
// obtained through a [Connector] (normally the [manager.Manager]). When
// a new server needs a connection and the pool is full, the least
// recently used idle connection is evicted; when every connection has
// requests in flight, [Pool.GetConnection] fails with a
// [failure.Capacity] error. Connections being established count
// toward the bound, and concurrent callers for the same server share
// one establishment.
//
// The manager also connects servers on its own when it retries or
// recovers from a drop. New installs the pool as the manager's
// [manager.Gate], so those connects need a free slot too: an adapter
// for a new server joins the pool, and a replacement for a pooled
// server takes over its entry. A pooled adapter found disconnected is
// dropped without a disconnect call and re-established, which returns
// the manager's replacement if it already has one.
//
// [Pool.ExecuteRequest] queues a unit of work with a timeout. At most
// MaxConcurrentRequests units run at once; the rest wait in FIFO order.
// Every queued request resolves exactly once: with the work's result,
// a timeout, the caller's context error, or [ErrPoolClosed].
//
// Maintenance started by [Pool.Start] runs on the pool's clock:
// health checks remove connections whose adapter reports unhealthy,
// cleanup evicts connections past MaxLifetime or IdleTimeout, and a
// stats pass publishes a [Stats] snapshot with a health
// classification. A [ResourceSampler] (see [NewMonitor]) adds process
// and host resource figures to the snapshot.
package pool
