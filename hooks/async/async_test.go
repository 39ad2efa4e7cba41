package asynchook

import (
	"sync"
	"testing"
	"time"

	"github.com/VitorFirmino/cachelab"
)

type recHooks struct {
	cachelab.NopHooks
	mu       sync.Mutex
	served   int
	outcomes []string
	block    chan struct{}
}

func (r *recHooks) EntryServed(string, string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.served++
	r.mu.Unlock()
}

func (r *recHooks) CheckoutFinished(outcome string, _ int) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func TestDeliversThenDrains(t *testing.T) {
	inner := &recHooks{}
	h := New(inner, 2, 64)
	for i := 0; i < 10; i++ {
		h.EntryServed("featured", "fresh")
	}
	h.CheckoutFinished("ok", 1)
	h.Close()

	if inner.served != 10 {
		t.Fatalf("served=%d want 10", inner.served)
	}
	if len(inner.outcomes) != 1 || inner.outcomes[0] != "ok" {
		t.Fatalf("outcomes=%v", inner.outcomes)
	}
	if h.Dropped() != 0 {
		t.Fatalf("dropped=%d", h.Dropped())
	}
}

func TestDropsWhenFull(t *testing.T) {
	inner := &recHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)

	h.EntryServed("a", "fresh") // taken by the worker, blocks
	time.Sleep(20 * time.Millisecond)
	h.EntryServed("b", "fresh") // queued
	h.EntryServed("c", "fresh") // dropped

	if got := h.Dropped(); got != 1 {
		t.Fatalf("dropped=%d want 1", got)
	}
	close(inner.block)
	h.Close()
}

func TestAfterCloseIsDropped(t *testing.T) {
	h := New(nil, 1, 4)
	h.Close()
	h.Close()
	h.TagInvalidated("products")
	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", h.Dropped())
	}
}
