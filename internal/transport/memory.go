package transport

import (
	"context"
	"errors"
	"sync"
)

// Hub is a shared in-process rendezvous point letting MemoryTransport
// instances exchange bytes without any real networking, standing in for
// the BLE mesh's broadcast medium in tests.
type Hub struct {
	mu      sync.Mutex
	members map[string]*MemoryTransport
}

// NewHub returns an empty in-process mesh.
func NewHub() *Hub {
	return &Hub{members: make(map[string]*MemoryTransport)}
}

func (h *Hub) join(id string, t *MemoryTransport) {
	h.mu.Lock()
	h.members[id] = t
	others := make(map[string]*MemoryTransport, len(h.members))
	for otherID, other := range h.members {
		if otherID == id {
			continue
		}
		others[otherID] = other
	}
	h.mu.Unlock()
	// Callbacks run without the hub lock held, since a connect callback
	// may itself send through the hub.
	for otherID, other := range others {
		other.notifyConnected(id)
		t.notifyConnected(otherID)
	}
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.members, id)
	for otherID, other := range h.members {
		if otherID == id {
			continue
		}
		other.notifyDisconnected(id)
	}
}

func (h *Hub) broadcast(fromID string, data []byte) {
	h.mu.Lock()
	targets := make([]*MemoryTransport, 0, len(h.members))
	for id, t := range h.members {
		if id == fromID {
			continue
		}
		targets = append(targets, t)
	}
	h.mu.Unlock()
	for _, t := range targets {
		t.deliver(fromID, data)
	}
}

func (h *Hub) broadcastExcept(fromID, exceptID string, data []byte) {
	h.mu.Lock()
	targets := make([]*MemoryTransport, 0, len(h.members))
	for id, t := range h.members {
		if id == fromID || id == exceptID {
			continue
		}
		targets = append(targets, t)
	}
	h.mu.Unlock()
	for _, t := range targets {
		t.deliver(fromID, data)
	}
}

func (h *Hub) sendTo(fromID, toID string, data []byte) error {
	h.mu.Lock()
	target, ok := h.members[toID]
	h.mu.Unlock()
	if !ok {
		return errors.New("transport: no such link")
	}
	target.deliver(fromID, data)
	return nil
}

func (h *Hub) connectedCount(excludeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.members)
	if _, ok := h.members[excludeID]; ok {
		n--
	}
	return n
}

// MemoryTransport is a Transport backed by a Hub, used for deterministic
// multi-node tests without any real network stack.
type MemoryTransport struct {
	id  string
	hub *Hub
	cb  Callbacks

	mu      sync.Mutex
	started bool
}

// NewMemoryTransport returns a transport identified by id on hub.
func NewMemoryTransport(hub *Hub, id string) *MemoryTransport {
	return &MemoryTransport{id: id, hub: hub}
}

func (m *MemoryTransport) Init(cb Callbacks) error {
	m.cb = cb
	return nil
}

func (m *MemoryTransport) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	m.hub.join(m.id, m)
	<-ctx.Done()
	m.hub.leave(m.id)
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return ctx.Err()
}

func (m *MemoryTransport) Stop() error {
	m.hub.leave(m.id)
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return nil
}

func (m *MemoryTransport) Send(data []byte) error {
	m.hub.broadcast(m.id, data)
	return nil
}

func (m *MemoryTransport) SendTo(linkID string, data []byte) error {
	return m.hub.sendTo(m.id, linkID, data)
}

func (m *MemoryTransport) SendExcept(exceptLinkID string, data []byte) error {
	m.hub.broadcastExcept(m.id, exceptLinkID, data)
	return nil
}

func (m *MemoryTransport) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *MemoryTransport) ConnectedCount() int {
	return m.hub.connectedCount(m.id)
}

func (m *MemoryTransport) deliver(fromID string, data []byte) {
	if m.cb.OnPacketReceived != nil {
		m.cb.OnPacketReceived(fromID, data)
	}
}

func (m *MemoryTransport) notifyConnected(id string) {
	if m.cb.OnPeerConnected != nil {
		m.cb.OnPeerConnected(id)
	}
}

func (m *MemoryTransport) notifyDisconnected(id string) {
	if m.cb.OnPeerDisconnected != nil {
		m.cb.OnPeerDisconnected(id)
	}
}
