package redisbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitorFirmino/cachelab/bus"
)

func newClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newBus(t *testing.T, rdb redis.UniversalClient) *Bus {
	t.Helper()
	b, err := New(context.Background(), Options{Client: rdb})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBusDeliversAcrossProcessesButNotToSelf(t *testing.T) {
	rdb := newClient(t)
	a, b := newBus(t, rdb), newBus(t, rdb)

	var selfHits atomic.Int32
	var got atomic.Value
	_, err := a.Subscribe(func(bus.Event) { selfHits.Add(1) })
	require.NoError(t, err)
	_, err = b.Subscribe(func(ev bus.Event) { got.Store(ev) })
	require.NoError(t, err)

	require.NoError(t, a.Publish(context.Background(), bus.ClearEvent(time.UnixMilli(1700000000123))))

	require.Eventually(t, func() bool { return got.Load() != nil }, 2*time.Second, 10*time.Millisecond)
	ev := got.Load().(bus.Event)
	assert.Equal(t, bus.Channel, ev.Channel)
	assert.Equal(t, "1700000000123", ev.Token)
	assert.Equal(t, a.Origin(), ev.Origin)

	// give the echo time to arrive, then check it was dropped
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, selfHits.Load())
}

func TestRedisBusIgnoresForeignGarbage(t *testing.T) {
	rdb := newClient(t)
	b := newBus(t, rdb)
	var n atomic.Int32
	_, err := b.Subscribe(func(bus.Event) { n.Add(1) })
	require.NoError(t, err)

	require.NoError(t, rdb.Publish(context.Background(), bus.Channel, "not cbor").Err())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, n.Load())
}

func TestRedisBusClose(t *testing.T) {
	b := newBus(t, newClient(t))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), bus.ClearEvent(time.Now())), bus.ErrClosed)
	_, err := b.Subscribe(func(bus.Event) {})
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
