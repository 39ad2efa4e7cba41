package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/bus"
)

// stream relays bus clear events to browser tabs over SSE. Each client has
// a small buffer; a client that falls behind misses events rather than
// stalling the relay.
type stream struct {
	log       cachelab.Logger
	heartbeat time.Duration

	mu      sync.RWMutex
	clients map[string]chan bus.Event
	cancel  func()
	done    chan struct{}
	once    sync.Once
}

func newStream(log cachelab.Logger, heartbeat time.Duration) *stream {
	return &stream{
		log:       log,
		heartbeat: heartbeat,
		clients:   make(map[string]chan bus.Event),
		done:      make(chan struct{}),
	}
}

func (st *stream) relay(b bus.Bus) error {
	cancel, err := b.Subscribe(st.broadcast)
	if err != nil {
		return fmt.Errorf("server: subscribe to bus: %w", err)
	}
	st.cancel = cancel
	return nil
}

func (st *stream) broadcast(ev bus.Event) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for id, ch := range st.clients {
		select {
		case ch <- ev:
		default:
			st.log.Warn("sse.client_behind", cachelab.Fields{"client": id})
		}
	}
}

func (st *stream) register() (string, chan bus.Event) {
	id := ulid.Make().String()
	ch := make(chan bus.Event, 16)
	st.mu.Lock()
	st.clients[id] = ch
	n := len(st.clients)
	st.mu.Unlock()
	st.log.Debug("sse.client_registered", cachelab.Fields{"client": id, "clients": n})
	return id, ch
}

func (st *stream) unregister(id string) {
	st.mu.Lock()
	delete(st.clients, id)
	st.mu.Unlock()
}

func (st *stream) close() {
	st.once.Do(func() {
		if st.cancel != nil {
			st.cancel()
		}
		close(st.done)
	})
}

func (st *stream) handle(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	id, ch := st.register()
	defer st.unregister(id)

	if !writeEvent(c, "ready", gin.H{"client": id, "channel": bus.Channel}) {
		return
	}

	tick := time.NewTicker(st.heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-st.done:
			return
		case ev := <-ch:
			if !writeEvent(c, "cache-clear", ev) {
				return
			}
		case <-tick.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeEvent(c *gin.Context, name string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
