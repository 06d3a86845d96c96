// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import "testing"

func TestSubscribeFilterAndDrop(t *testing.T) {
	var hub Hub[int]
	evens := hub.Subscribe(2, func(v int) bool { return v%2 == 0 })
	all := hub.Subscribe(1, nil)

	for i := 0; i < 6; i++ {
		hub.Publish(i)
	}

	if got := <-evens.C(); got != 0 {
		t.Fatalf("first even = %d", got)
	}
	if got := <-evens.C(); got != 2 {
		t.Fatalf("second even = %d", got)
	}
	if evens.Dropped() != 1 {
		t.Fatalf("evens dropped = %d, want 1", evens.Dropped())
	}
	if got := <-all.C(); got != 0 {
		t.Fatalf("all first = %d", got)
	}
	if all.Dropped() != 5 {
		t.Fatalf("all dropped = %d, want 5", all.Dropped())
	}
}

func TestHandlerRunsSynchronously(t *testing.T) {
	var hub Hub[string]
	var seen []string
	remove := hub.Handle(func(v string) { seen = append(seen, v) })

	hub.Publish("connected")
	remove()
	hub.Publish("disconnected")

	if len(seen) != 1 || seen[0] != "connected" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestCloseClosesSubscriptions(t *testing.T) {
	var hub Hub[int]
	subscription := hub.Subscribe(1, nil)
	hub.Close()

	if _, ok := <-subscription.C(); ok {
		t.Fatal("channel still open after hub Close")
	}
	hub.Publish(1)
	subscription.Close()

	late := hub.Subscribe(1, nil)
	if _, ok := <-late.C(); ok {
		t.Fatal("subscription on closed hub should be closed")
	}
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	var hub Hub[int]
	subscription := hub.Subscribe(4, nil)
	subscription.Close()
	subscription.Close()
	hub.Publish(7)
	if _, ok := <-subscription.C(); ok {
		t.Fatal("closed subscription received a value")
	}
}
