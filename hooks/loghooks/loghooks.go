// Package loghooks writes hook events to a cachelab.Logger, sampling the
// high-volume ones.
package loghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/VitorFirmino/cachelab"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ServedEvery  uint64
	DroppedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    cachelab.Logger
	opts Options

	servedCtr  atomic.Uint64
	droppedCtr atomic.Uint64
}

var _ cachelab.Hooks = (*Hooks)(nil)

func New(l cachelab.Logger, opts Options) *Hooks {
	return &Hooks{l: cachelab.LoggerOr(l).With(cachelab.Fields{"component": "hooks"}), opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) EntryServed(op, status string) {
	if !sample(h.opts.ServedEvery, &h.servedCtr) {
		return
	}
	h.l.Debug("cachelab.entry_served", cachelab.Fields{"op": op, "status": status})
}

func (h *Hooks) EntryRecomputed(op string, background bool, took time.Duration, err error) {
	f := cachelab.Fields{"op": op, "background": background, "took": took.String()}
	if err != nil {
		f["err"] = err
		h.l.Warn("cachelab.recompute_failed", f)
		return
	}
	h.l.Debug("cachelab.recomputed", f)
}

func (h *Hooks) EntryDropped(storageKey, reason string) {
	if !sample(h.opts.DroppedEvery, &h.droppedCtr) {
		return
	}
	h.l.Debug("cachelab.entry_dropped", cachelab.Fields{"key": h.redact(storageKey), "reason": reason})
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	h.l.Warn("cachelab.provider_set_rejected", cachelab.Fields{"key": h.redact(storageKey)})
}

func (h *Hooks) TagVersionsError(count int, err error) {
	h.l.Warn("cachelab.tag_versions_error", cachelab.Fields{"count": count, "err": err})
}

func (h *Hooks) TagInvalidated(tag string) {
	h.l.Debug("cachelab.tag_invalidated", cachelab.Fields{"tag": tag})
}

func (h *Hooks) TagInvalidateFailed(tag string, err error) {
	h.l.Error("cachelab.tag_invalidate_failed", cachelab.Fields{"tag": tag, "err": err})
}

func (h *Hooks) CheckoutFinished(outcome string, attempts int) {
	f := cachelab.Fields{"outcome": outcome, "attempts": attempts}
	if outcome == "CHECKOUT_FAILED" {
		h.l.Error("cachelab.checkout_failed", f)
		return
	}
	h.l.Info("cachelab.checkout_finished", f)
}
