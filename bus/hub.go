package bus

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Hub is an in-process bus. Each Endpoint stands for one context; an event
// published on an endpoint reaches the handlers of all other endpoints,
// synchronously, on the publisher's goroutine.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

func NewHub() *Hub { return &Hub{endpoints: make(map[string]*Endpoint)} }

// Endpoint attaches a new context to the hub.
func (h *Hub) Endpoint() *Endpoint {
	e := &Endpoint{hub: h, id: ulid.Make().String(), handlers: make(map[uint64]Handler)}
	h.mu.Lock()
	h.endpoints[e.id] = e
	h.mu.Unlock()
	return e
}

func (h *Hub) others(id string) []*Endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Endpoint, 0, len(h.endpoints))
	for k, e := range h.endpoints {
		if k != id {
			out = append(out, e)
		}
	}
	return out
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	delete(h.endpoints, id)
	h.mu.Unlock()
}

type Endpoint struct {
	hub *Hub
	id  string

	mu       sync.Mutex
	handlers map[uint64]Handler
	next     uint64
	closed   bool
}

var _ Bus = (*Endpoint)(nil)

// ID identifies the endpoint as an event origin.
func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if ev.Channel == "" {
		ev.Channel = Channel
	}
	ev.Origin = e.id
	for _, o := range e.hub.others(e.id) {
		o.deliver(ev)
	}
	return nil
}

func (e *Endpoint) deliver(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	hs := make([]Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		hs = append(hs, h)
	}
	e.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (e *Endpoint) Subscribe(h Handler) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	id := e.next
	e.next++
	e.handlers[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
	}, nil
}

// Close detaches the endpoint from the hub. Safe to call twice.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.handlers = map[uint64]Handler{}
	e.mu.Unlock()
	e.hub.detach(e.id)
	return nil
}
