// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify fans typed notifications out to subscribers.
//
// A [Hub] has two kinds of listener. Subscriptions receive on a buffered
// channel and never block the publisher: when a subscriber's buffer is
// full the notification is dropped for that subscriber and counted.
// Handlers are called synchronously on the publishing goroutine and must
// return quickly; components use them to react to their children's
// lifecycle without an extra goroutine per child.
//
// Publishers must not hold their own locks while publishing, since a
// handler may call back into the publisher.
package notify

import (
	"sync"
	"sync/atomic"
)

// Hub distributes values of type T. The zero value is ready to use.
type Hub[T any] struct {
	mu            sync.RWMutex
	subscriptions map[*Subscription[T]]struct{}
	handlers      map[uint64]func(T)
	nextHandler   uint64
	closed        bool
}

// Subscription is a channel-backed listener created by Hub.Subscribe.
type Subscription[T any] struct {
	hub     *Hub[T]
	channel chan T
	filter  func(T) bool
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the receive channel. It is closed when the subscription or
// the hub is closed.
func (s *Subscription[T]) C() <-chan T { return s.channel }

// Dropped returns how many notifications were discarded because the
// buffer was full.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription and closes its channel.
func (s *Subscription[T]) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subscriptions, s)
	s.hub.mu.Unlock()
	s.closeChannel()
}

func (s *Subscription[T]) closeChannel() {
	s.once.Do(func() { close(s.channel) })
}

// Subscribe returns a subscription with the given buffer size. A nil
// filter accepts everything. Subscribing to a closed hub returns an
// already-closed subscription.
func (h *Hub[T]) Subscribe(buffer int, filter func(T) bool) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	subscription := &Subscription[T]{
		hub:     h,
		channel: make(chan T, buffer),
		filter:  filter,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		subscription.closeChannel()
		return subscription
	}
	if h.subscriptions == nil {
		h.subscriptions = make(map[*Subscription[T]]struct{})
	}
	h.subscriptions[subscription] = struct{}{}
	return subscription
}

// Handle registers a synchronous handler. The returned function removes
// it.
func (h *Hub[T]) Handle(handler func(T)) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers == nil {
		h.handlers = make(map[uint64]func(T))
	}
	h.nextHandler++
	id := h.nextHandler
	h.handlers[id] = handler
	return func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

// Publish offers value to every matching subscription, then calls
// every handler.
func (h *Hub[T]) Publish(value T) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	handlers := make([]func(T), 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	for subscription := range h.subscriptions {
		if subscription.filter != nil && !subscription.filter(value) {
			continue
		}
		select {
		case subscription.channel <- value:
		default:
			subscription.dropped.Add(1)
		}
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(value)
	}
}

// Close closes every subscription and drops all handlers. Later
// Publish calls are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subscriptions := h.subscriptions
	h.subscriptions = nil
	h.handlers = nil
	h.mu.Unlock()

	for subscription := range subscriptions {
		subscription.closeChannel()
	}
}
