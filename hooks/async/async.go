// Package asynchook moves hook delivery off the request path.
//
//	raw := loghooks.New(logger, loghooks.Options{ServedEvery: 100})
//	hooks := asynchook.New(cachelab.MultiHooks{raw, metrics.New()}, 1, 1000)
//	defer hooks.Close()
//
// Events are dropped when the queue is full; Dropped reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/VitorFirmino/cachelab"
)

type Hooks struct {
	inner   cachelab.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ cachelab.Hooks = (*Hooks)(nil)

func New(inner cachelab.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: cachelab.HooksOr(inner), q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost the race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) EntryServed(op, status string) { h.try(func() { h.inner.EntryServed(op, status) }) }
func (h *Hooks) EntryRecomputed(op string, bg bool, took time.Duration, err error) {
	h.try(func() { h.inner.EntryRecomputed(op, bg, took, err) })
}
func (h *Hooks) EntryDropped(k, reason string) { h.try(func() { h.inner.EntryDropped(k, reason) }) }
func (h *Hooks) ProviderSetRejected(k string)  { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) TagVersionsError(n int, err error) {
	h.try(func() { h.inner.TagVersionsError(n, err) })
}
func (h *Hooks) TagInvalidated(tag string) { h.try(func() { h.inner.TagInvalidated(tag) }) }
func (h *Hooks) TagInvalidateFailed(tag string, err error) {
	h.try(func() { h.inner.TagInvalidateFailed(tag, err) })
}
func (h *Hooks) CheckoutFinished(outcome string, attempts int) {
	h.try(func() { h.inner.CheckoutFinished(outcome, attempts) })
}
