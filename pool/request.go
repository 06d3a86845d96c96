// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/gamefleet/adapter"
	"github.com/bureau-foundation/gamefleet/lib/clock"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/manager"
)

// Work is a unit of work run against a server's adapter.
type Work func(ctx context.Context, connection adapter.Adapter) (any, error)

// queuedRequest lives from ExecuteRequest until it resolves. Every
// field after result is guarded by Pool.mu.
type queuedRequest struct {
	config   manager.ServerConfig
	work     Work
	ctx      context.Context
	cancel   context.CancelFunc
	enqueued time.Time
	result   chan requestResult

	timer    *clock.Timer
	resolved bool
}

type requestResult struct {
	value any
	err   error
}

// ExecuteRequest queues work for the server and waits for its result.
// The request fails with a [failure.Timeout] error when RequestTimeout
// elapses before the work returns, whether it was still queued or
// already running; running work sees its context cancelled.
func (p *Pool) ExecuteRequest(ctx context.Context, config manager.ServerConfig, work Work) (any, error) {
	const op = "execute request"
	workContext, cancel := context.WithCancel(ctx)
	request := &queuedRequest{
		config:   config,
		work:     work,
		ctx:      workContext,
		cancel:   cancel,
		enqueued: p.clock.Now(),
		result:   make(chan requestResult, 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return nil, ErrPoolClosed
	}
	p.queue = append(p.queue, request)
	timeout := p.options.RequestTimeout
	request.timer = p.clock.AfterFunc(timeout, func() {
		p.expire(request, timeout)
	})
	p.dispatchLocked()
	p.mu.Unlock()

	select {
	case result := <-request.result:
		return result.value, result.err
	case <-ctx.Done():
		p.mu.Lock()
		p.resolveLocked(request, nil, contextFailure(op, ctx.Err()))
		p.mu.Unlock()
		result := <-request.result
		return result.value, result.err
	}
}

// Execute is ExecuteRequest with a typed result.
func Execute[T any](ctx context.Context, p *Pool, config manager.ServerConfig, work func(context.Context, adapter.Adapter) (T, error)) (T, error) {
	value, err := p.ExecuteRequest(ctx, config, func(ctx context.Context, connection adapter.Adapter) (any, error) {
		return work(ctx, connection)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := value.(T)
	return typed, nil
}

// QueueLength reports the requests waiting for an execution slot.
func (p *Pool) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queuedLocked()
}

// queuedLocked counts queued requests that are still unresolved. A
// request abandoned by its caller stays in the queue until dispatch
// skips it.
func (p *Pool) queuedLocked() int {
	count := 0
	for _, request := range p.queue {
		if !request.resolved {
			count++
		}
	}
	return count
}

// ActiveRequests reports the requests currently executing.
func (p *Pool) ActiveRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// dispatchLocked starts queued requests while execution slots are free.
func (p *Pool) dispatchLocked() {
	for p.active < p.options.MaxConcurrentRequests && len(p.queue) > 0 {
		request := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		if request.resolved {
			continue
		}
		p.active++
		p.running[request] = struct{}{}
		go p.run(request)
	}
}

// run executes one admitted request. The slot is returned on every
// path.
func (p *Pool) run(request *queuedRequest) {
	defer p.finish(request)

	if err := p.waitForRate(request); err != nil {
		p.complete(request, nil, err)
		return
	}
	connection, err := p.GetConnection(request.ctx, request.config)
	if err != nil {
		p.record(p.clock.Now().Sub(request.enqueued), err)
		p.complete(request, nil, err)
		return
	}

	pooled := p.acquire(request.config.ID, connection)
	started := p.clock.Now()
	value, err := request.work(request.ctx, connection)
	elapsed := p.clock.Now().Sub(started)
	p.releaseUse(pooled)

	p.record(elapsed, err)
	p.complete(request, value, err)
}

func (p *Pool) finish(request *queuedRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, request)
	p.active--
	p.dispatchLocked()
}

func (p *Pool) complete(request *queuedRequest, value any, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolveLocked(request, value, err)
}

// resolveLocked delivers the request's single result. Later calls do
// nothing.
func (p *Pool) resolveLocked(request *queuedRequest, value any, err error) {
	if request.resolved {
		return
	}
	request.resolved = true
	if request.timer != nil {
		request.timer.Stop()
	}
	request.cancel()
	request.result <- requestResult{value: value, err: err}
}

func (p *Pool) expire(request *queuedRequest, timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if request.resolved {
		return
	}
	_, running := p.running[request]
	state := "queued"
	if running {
		state = "running"
	}
	p.logger.Warn("pooled request timed out", "server_id", request.config.ID, "state", state, "timeout", timeout)
	p.resolveLocked(request, nil, failure.New(failure.Timeout, "execute request",
		"request for server %q timed out after %s while %s", request.config.ID, timeout, state))
	if !running {
		p.removeQueuedLocked(request)
	}
}

func (p *Pool) removeQueuedLocked(request *queuedRequest) {
	for index, queued := range p.queue {
		if queued == request {
			p.queue = append(p.queue[:index], p.queue[index+1:]...)
			return
		}
	}
}

// acquire marks a pooled connection busy. It returns nil when the
// connection left the pool after GetConnection returned it.
func (p *Pool) acquire(server string, connection adapter.Adapter) *pooledConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	pooled := p.connections[server]
	if pooled == nil || pooled.adapter != connection {
		return nil
	}
	pooled.inFlight++
	pooled.lastUsed = p.clock.Now()
	return pooled
}

func (p *Pool) releaseUse(pooled *pooledConnection) {
	if pooled == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pooled.inFlight--
	pooled.lastUsed = p.clock.Now()
}

// record adds a finished request to the rolling window.
func (p *Pool) record(elapsed time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if err != nil {
		p.failed++
	}
	p.outcomes.add(outcome{elapsed: elapsed, failed: err != nil})
}

// waitForRate blocks until the server's token bucket admits the
// request. The bucket is read against the pool's clock.
func (p *Pool) waitForRate(request *queuedRequest) error {
	if p.options.RateLimit <= 0 {
		return nil
	}
	server := request.config.ID
	p.mu.Lock()
	limiter := p.limiters[server]
	if limiter == nil {
		limiter = rate.NewLimiter(p.options.RateLimit, p.options.RateBurst)
		p.limiters[server] = limiter
	}
	p.mu.Unlock()

	now := p.clock.Now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return failure.New(failure.Capacity, "execute request", "rate limit for server %q admits no requests", server)
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	p.logger.Debug("request rate limited", "server_id", server, "delay", delay)
	select {
	case <-p.clock.After(delay):
		return nil
	case <-request.ctx.Done():
		reservation.CancelAt(p.clock.Now())
		return fmt.Errorf("waiting for rate limit: %w", request.ctx.Err())
	}
}
