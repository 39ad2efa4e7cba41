// Package redisbus carries mirror-clear events over Redis pub/sub, so
// contexts in different processes clear together.
//
// Messages are CBOR envelopes holding the publisher's origin id and a
// protobuf Timestamp token. Pub/sub echoes a message to its own publisher;
// the origin id is how a Bus skips its own events.
package redisbus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/bus"
	"github.com/VitorFirmino/cachelab/codec"
)

type envelope struct {
	Origin string `cbor:"1,keyasint"`
	Token  []byte `cbor:"2,keyasint"`
}

var (
	envCodec   = codec.MustCBOR[envelope](true)
	tokenCodec = codec.NewProtobuf(func() *timestamppb.Timestamp { return &timestamppb.Timestamp{} })
)

type Options struct {
	Client  redis.UniversalClient // required; not closed by the Bus
	Channel string                // "" => bus.Channel
	Logger  cachelab.Logger
}

type Bus struct {
	rdb     redis.UniversalClient
	channel string
	origin  string
	log     cachelab.Logger
	ps      *redis.PubSub

	mu       sync.Mutex
	handlers map[uint64]bus.Handler
	next     uint64
	closed   bool

	wg sync.WaitGroup
}

var _ bus.Bus = (*Bus)(nil)

// New subscribes to the channel and waits for Redis to confirm before
// returning, so no event published after New returns is missed.
func New(ctx context.Context, opts Options) (*Bus, error) {
	if opts.Client == nil {
		return nil, errors.New("redisbus: client is required")
	}
	b := &Bus{
		rdb:      opts.Client,
		channel:  opts.Channel,
		origin:   ulid.Make().String(),
		handlers: make(map[uint64]bus.Handler),
	}
	if b.channel == "" {
		b.channel = bus.Channel
	}
	b.log = cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "redisbus", "origin": b.origin})

	b.ps = b.rdb.Subscribe(ctx, b.channel)
	if _, err := b.ps.Receive(ctx); err != nil {
		_ = b.ps.Close()
		return nil, err
	}

	b.wg.Add(1)
	go b.loop(b.ps.Channel())
	return b, nil
}

// Origin is this bus's id as stamped on published events.
func (b *Bus) Origin() string { return b.origin }

func (b *Bus) Publish(ctx context.Context, ev bus.Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}

	at := time.Now()
	if ms, err := strconv.ParseInt(ev.Token, 10, 64); err == nil {
		at = time.UnixMilli(ms)
	}
	tok, err := tokenCodec.Encode(timestamppb.New(at))
	if err != nil {
		return err
	}
	raw, err := envCodec.Encode(envelope{Origin: b.origin, Token: tok})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *Bus) loop(ch <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range ch {
		env, err := envCodec.Decode([]byte(msg.Payload))
		if err != nil {
			b.log.Warn("redisbus.bad_message", cachelab.Fields{"err": err})
			continue
		}
		if env.Origin == b.origin || len(env.Token) == 0 {
			continue
		}
		ts, err := tokenCodec.Decode(env.Token)
		if err != nil {
			b.log.Warn("redisbus.bad_token", cachelab.Fields{"err": err})
			continue
		}
		b.dispatch(bus.Event{Channel: msg.Channel, Token: bus.NewToken(ts.AsTime()), Origin: env.Origin})
	}
}

func (b *Bus) dispatch(ev bus.Event) {
	b.mu.Lock()
	hs := make([]bus.Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (b *Bus) Subscribe(h bus.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}
	id := b.next
	b.next++
	b.handlers[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

// Close unsubscribes and waits for the delivery goroutine. Safe to call twice.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = map[uint64]bus.Handler{}
	b.mu.Unlock()

	err := b.ps.Close()
	b.wg.Wait()
	return err
}
