package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToOthersOnly(t *testing.T) {
	hub := NewHub()
	a, b, c := hub.Endpoint(), hub.Endpoint(), hub.Endpoint()

	var gotA, gotB, gotC atomic.Int32
	var last atomic.Value
	_, err := a.Subscribe(func(Event) { gotA.Add(1) })
	require.NoError(t, err)
	_, err = b.Subscribe(func(ev Event) { gotB.Add(1); last.Store(ev) })
	require.NoError(t, err)
	_, err = c.Subscribe(func(Event) { gotC.Add(1) })
	require.NoError(t, err)

	require.NoError(t, a.Publish(context.Background(), ClearEvent(time.UnixMilli(42))))

	assert.Zero(t, gotA.Load(), "publisher must not receive its own event")
	assert.Equal(t, int32(1), gotB.Load())
	assert.Equal(t, int32(1), gotC.Load())
	ev := last.Load().(Event)
	assert.Equal(t, Channel, ev.Channel)
	assert.Equal(t, "42", ev.Token)
	assert.Equal(t, a.ID(), ev.Origin)
}

func TestHubCancelAndClose(t *testing.T) {
	hub := NewHub()
	a, b := hub.Endpoint(), hub.Endpoint()

	var n atomic.Int32
	cancel, err := b.Subscribe(func(Event) { n.Add(1) })
	require.NoError(t, err)
	cancel()
	cancel()
	require.NoError(t, a.Publish(context.Background(), ClearEvent(time.Now())))
	assert.Zero(t, n.Load())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err = b.Subscribe(func(Event) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), ClearEvent(time.Now())), ErrClosed)
}

func TestPublishHonorsContext(t *testing.T) {
	a := NewHub().Endpoint()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Publish(ctx, ClearEvent(time.Now())), context.Canceled)
}
