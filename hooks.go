package cachelab

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// Directives and the checkout manager call them on hot paths.
type Hooks interface {
	// A directive answered a read.
	// status ∈ {"fresh", "stale", "recomputed", "miss", "stale_on_error"}
	EntryServed(operation, status string)

	// A directive recomputed a result. background is true for the
	// stale band refresh. err is the compute error, if any.
	EntryRecomputed(operation string, background bool, took time.Duration, err error)

	// A stored entry was dropped on read.
	// reason ∈ {"corrupt", "tag_mismatch", "value_decode"}
	EntryDropped(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// Tag version errors. count is the number of tags involved.
	TagVersionsError(count int, err error)

	// A tag (or path) version was bumped, or failed to bump.
	TagInvalidated(tag string)
	TagInvalidateFailed(tag string, err error)

	// A checkout finished. outcome is "ok" or an error code.
	CheckoutFinished(outcome string, attempts int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) EntryServed(string, string)                        {}
func (NopHooks) EntryRecomputed(string, bool, time.Duration, error) {}
func (NopHooks) EntryDropped(string, string)                       {}
func (NopHooks) ProviderSetRejected(string)                        {}
func (NopHooks) TagVersionsError(int, error)                       {}
func (NopHooks) TagInvalidated(string)                             {}
func (NopHooks) TagInvalidateFailed(string, error)                 {}
func (NopHooks) CheckoutFinished(string, int)                      {}

// HooksOr returns h, or NopHooks when h is nil.
func HooksOr(h Hooks) Hooks {
	if h == nil {
		return NopHooks{}
	}
	return h
}

// MultiHooks fans every event out to each member in order.
type MultiHooks []Hooks

var _ Hooks = MultiHooks(nil)

func (m MultiHooks) EntryServed(op, status string) {
	for _, h := range m {
		h.EntryServed(op, status)
	}
}

func (m MultiHooks) EntryRecomputed(op string, bg bool, took time.Duration, err error) {
	for _, h := range m {
		h.EntryRecomputed(op, bg, took, err)
	}
}

func (m MultiHooks) EntryDropped(k, reason string) {
	for _, h := range m {
		h.EntryDropped(k, reason)
	}
}

func (m MultiHooks) ProviderSetRejected(k string) {
	for _, h := range m {
		h.ProviderSetRejected(k)
	}
}

func (m MultiHooks) TagVersionsError(n int, err error) {
	for _, h := range m {
		h.TagVersionsError(n, err)
	}
}

func (m MultiHooks) TagInvalidated(tag string) {
	for _, h := range m {
		h.TagInvalidated(tag)
	}
}

func (m MultiHooks) TagInvalidateFailed(tag string, err error) {
	for _, h := range m {
		h.TagInvalidateFailed(tag, err)
	}
}

func (m MultiHooks) CheckoutFinished(outcome string, attempts int) {
	for _, h := range m {
		h.CheckoutFinished(outcome, attempts)
	}
}
