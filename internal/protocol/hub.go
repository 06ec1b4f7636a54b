package protocol

import (
	"sync"

	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Transport is one client connection. Send must not block; it reports false when
// the frame was dropped.
type Transport interface {
	ID() string
	Send(msg arenadto.Outbound) bool
}

// Hub tracks connected transports and the sessions each one is subscribed to.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Transport
	groups map[string]map[string]Transport
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]Transport),
		groups: make(map[string]map[string]Transport),
	}
}

func (h *Hub) Register(t Transport) {
	h.mu.Lock()
	h.conns[t.ID()] = t
	h.mu.Unlock()
}

// Unregister drops t and all of its subscriptions.
func (h *Hub) Unregister(t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, t.ID())
	for sid, members := range h.groups {
		delete(members, t.ID())
		if len(members) == 0 {
			delete(h.groups, sid)
		}
	}
}

// Transport returns the registered transport with id.
func (h *Hub) Transport(id string) (Transport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.conns[id]
	return t, ok
}

func (h *Hub) Subscribe(sessionID string, t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[sessionID]
	if !ok {
		members = make(map[string]Transport)
		h.groups[sessionID] = members
	}
	members[t.ID()] = t
}

func (h *Hub) Unsubscribe(sessionID string, t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[sessionID]; ok {
		delete(members, t.ID())
		if len(members) == 0 {
			delete(h.groups, sessionID)
		}
	}
}

// Broadcast sends msg to every subscriber of sessionID.
func (h *Hub) Broadcast(sessionID string, msg arenadto.Outbound) int {
	h.mu.RLock()
	targets := make([]Transport, 0, len(h.groups[sessionID]))
	for _, t := range h.groups[sessionID] {
		targets = append(targets, t)
	}
	h.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		if t.Send(msg) {
			sent++
		}
	}
	return sent
}

// Subscribers counts the transports subscribed to sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[sessionID])
}
