// Package bus broadcasts "clear your mirror" signals between the contexts
// (tabs, processes) of one user agent or deployment.
//
// Delivery goes to every other subscriber and never back to the publishing
// context. Each listener sees an event at most once; there is no ordering
// guarantee relative to reads in flight.
package bus

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Channel is the well-known channel name for mirror clears.
const Channel = "cachelab:cache-clear"

var ErrClosed = errors.New("bus: closed")

// Event carries an opaque timestamp token. Receivers treat any non-empty
// token as "clear now".
type Event struct {
	Channel string `json:"channel"`
	Token   string `json:"token"`
	Origin  string `json:"origin,omitempty"`
}

// Handler receives events published by other contexts.
type Handler func(Event)

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h. cancel removes it and is safe to call twice.
	Subscribe(h Handler) (cancel func(), err error)
	Close() error
}

// NewToken formats t as a millisecond timestamp token.
func NewToken(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// ClearEvent is the event a mirror publishes when it is cleared at t.
func ClearEvent(t time.Time) Event { return Event{Channel: Channel, Token: NewToken(t)} }
