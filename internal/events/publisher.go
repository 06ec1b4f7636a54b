package events

import (
	"sync"

	"github.com/park285/cheese-arena/internal/domain"
)

// Type names an outbound session event.
type Type string

const (
	MoveApplied  Type = "moveApplied"
	ChatReceived Type = "chatReceived"
	SessionEnded Type = "sessionEnded"
)

// Event is published by the session registry after a mutation has been persisted.
type Event struct {
	Type      Type
	SessionID string
	Payload   any
}

// MovePayload accompanies MoveApplied.
type MovePayload struct {
	UCI        string               `json:"uci"`
	SAN        string               `json:"san"`
	FEN        string               `json:"fen"`
	Moves      []string             `json:"moves"`
	Clock      domain.ClockSnapshot `json:"clock"`
	SideToMove domain.Side          `json:"side_to_move"`
	Status     domain.Status        `json:"status"`
	Outcome    domain.Outcome       `json:"outcome"`
	By         domain.Side          `json:"by"`
}

// EndPayload accompanies SessionEnded.
type EndPayload struct {
	Outcome  domain.Outcome  `json:"outcome"`
	Status   domain.Status   `json:"status"`
	Snapshot domain.Snapshot `json:"-"`
}

// Handler receives events. Handlers run on the publisher's goroutine and must not block.
type Handler func(Event)

// Publisher fans events out to subscribers in publish order.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[Type][]Handler
	all         []Handler
}

func NewPublisher() *Publisher {
	return &Publisher{subscribers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (p *Publisher) Subscribe(t Type, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[t] = append(p.subscribers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (p *Publisher) SubscribeAll(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all = append(p.all, h)
}

// Publish delivers ev synchronously so events of one session keep their order.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	p.mu.RLock()
	handlers := append([]Handler(nil), p.subscribers[ev.Type]...)
	handlers = append(handlers, p.all...)
	p.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
