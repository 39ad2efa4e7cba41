package cachelab

import (
	"errors"
	"testing"
	"time"
)

type countingHooks struct {
	NopHooks
	served, invalidated, checkouts int
	lastOutcome                    string
}

func (c *countingHooks) EntryServed(string, string) { c.served++ }
func (c *countingHooks) TagInvalidated(string)      { c.invalidated++ }
func (c *countingHooks) CheckoutFinished(outcome string, _ int) {
	c.checkouts++
	c.lastOutcome = outcome
}

func TestMultiHooksFansOut(t *testing.T) {
	a, b := &countingHooks{}, &countingHooks{}
	var h Hooks = MultiHooks{a, b}

	h.EntryServed("featured", "fresh")
	h.TagInvalidated("product:1")
	h.CheckoutFinished("INSUFFICIENT_STOCK", 1)
	h.EntryRecomputed("featured", true, time.Millisecond, errors.New("boom"))

	for i, c := range []*countingHooks{a, b} {
		if c.served != 1 || c.invalidated != 1 || c.checkouts != 1 {
			t.Fatalf("member %d: got %+v", i, *c)
		}
		if c.lastOutcome != "INSUFFICIENT_STOCK" {
			t.Fatalf("member %d outcome=%q", i, c.lastOutcome)
		}
	}
}

func TestOrDefaults(t *testing.T) {
	if _, ok := HooksOr(nil).(NopHooks); !ok {
		t.Fatal("HooksOr(nil) must be NopHooks")
	}
	if _, ok := LoggerOr(nil).(NopLogger); !ok {
		t.Fatal("LoggerOr(nil) must be NopLogger")
	}
	LoggerOr(nil).With(Fields{"a": 1}).Info("noop", nil)
}

func TestFieldsMerge(t *testing.T) {
	base := Fields{"component": "directive", "op": "featured"}
	out := base.Merge(Fields{"op": "products", "status": "fresh"})

	if out["op"] != "products" || out["status"] != "fresh" || out["component"] != "directive" {
		t.Fatalf("merge: %v", out)
	}
	if base["op"] != "featured" || len(base) != 2 {
		t.Fatalf("base mutated: %v", base)
	}
}
