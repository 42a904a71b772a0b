package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestMemoryTransportConnectNotifications(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var aConnected, bConnected sync.Map
	a := NewMemoryTransport(hub, "a")
	b := NewMemoryTransport(hub, "b")
	_ = a.Init(Callbacks{OnPeerConnected: func(id string) { aConnected.Store(id, true) }})
	_ = b.Init(Callbacks{OnPeerConnected: func(id string) { bConnected.Store(id, true) }})

	go a.Start(ctx)
	go b.Start(ctx)

	waitFor(t, time.Second, func() bool {
		_, ok := aConnected.Load("b")
		return ok
	})
	waitFor(t, time.Second, func() bool {
		_, ok := bConnected.Load("a")
		return ok
	})
}

func TestMemoryTransportBroadcastExcept(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received sync.Map
	a := NewMemoryTransport(hub, "a")
	b := NewMemoryTransport(hub, "b")
	c := NewMemoryTransport(hub, "c")
	_ = a.Init(Callbacks{})
	_ = b.Init(Callbacks{OnPacketReceived: func(from string, data []byte) { received.Store("b", string(data)) }})
	_ = c.Init(Callbacks{OnPacketReceived: func(from string, data []byte) { received.Store("c", string(data)) }})

	go a.Start(ctx)
	go b.Start(ctx)
	go c.Start(ctx)

	waitFor(t, time.Second, func() bool { return a.ConnectedCount() == 2 })

	if err := a.SendExcept("b", []byte("hello")); err != nil {
		t.Fatalf("SendExcept: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := received.Load("c")
		return ok
	})
	if _, ok := received.Load("b"); ok {
		t.Fatalf("expected excluded link b to not receive the broadcast")
	}
}
