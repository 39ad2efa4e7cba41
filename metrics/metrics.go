// Package metrics exports cache and checkout activity to Prometheus.
// *Hooks implements cachelab.Hooks and can be chained with other hooks
// through cachelab.MultiHooks.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/tagstore"
)

const namespace = "cachelab"

type Hooks struct {
	served          *prometheus.CounterVec
	recomputed      *prometheus.CounterVec
	recomputeTime   *prometheus.HistogramVec
	dropped         *prometheus.CounterVec
	setRejected     prometheus.Counter
	tagVersionsErrs prometheus.Counter
	invalidated     *prometheus.CounterVec
	invalidateErrs  *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	checkoutRetries prometheus.Counter
}

var _ cachelab.Hooks = (*Hooks)(nil)

func New() *Hooks {
	return &Hooks{
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "Directive reads by operation and cache status",
		}, []string{"operation", "status"}),
		recomputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recomputes_total",
			Help:      "Compute calls by operation, mode and result",
		}, []string{"operation", "mode", "result"}),
		recomputeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_duration_seconds",
			Help:      "Compute latency by operation",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_dropped_total",
			Help:      "Cached entries deleted on read by reason",
		}, []string{"reason"}),
		setRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_set_rejected_total",
			Help:      "Writes the entry provider refused",
		}),
		tagVersionsErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_versions_errors_total",
			Help:      "Failed tag version lookups",
		}),
		invalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Tag bumps by kind (tag or path)",
		}, []string{"kind"}),
		invalidateErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_errors_total",
			Help:      "Failed tag bumps by kind (tag or path)",
		}, []string{"kind"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkouts by outcome (ok or error code)",
		}, []string{"outcome"}),
		checkoutRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_retries_total",
			Help:      "Checkout attempts repeated after contention",
		}),
	}
}

// Collectors lists every metric for registration.
func (h *Hooks) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.served, h.recomputed, h.recomputeTime, h.dropped, h.setRejected,
		h.tagVersionsErrs, h.invalidated, h.invalidateErrs, h.checkouts, h.checkoutRetries,
	}
}

// MustRegister registers every metric with reg and panics on conflict.
func (h *Hooks) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(h.Collectors()...)
}

func (h *Hooks) EntryServed(op, status string) {
	h.served.WithLabelValues(op, status).Inc()
}

func (h *Hooks) EntryRecomputed(op string, background bool, took time.Duration, err error) {
	mode := "sync"
	if background {
		mode = "background"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	h.recomputed.WithLabelValues(op, mode, result).Inc()
	h.recomputeTime.WithLabelValues(op).Observe(took.Seconds())
}

func (h *Hooks) EntryDropped(_, reason string) { h.dropped.WithLabelValues(reason).Inc() }

func (h *Hooks) ProviderSetRejected(string) { h.setRejected.Inc() }

func (h *Hooks) TagVersionsError(int, error) { h.tagVersionsErrs.Inc() }

func (h *Hooks) TagInvalidated(tag string) { h.invalidated.WithLabelValues(kind(tag)).Inc() }

func (h *Hooks) TagInvalidateFailed(tag string, _ error) {
	h.invalidateErrs.WithLabelValues(kind(tag)).Inc()
}

func (h *Hooks) CheckoutFinished(outcome string, attempts int) {
	h.checkouts.WithLabelValues(outcome).Inc()
	if attempts > 1 {
		h.checkoutRetries.Add(float64(attempts - 1))
	}
}

// kind keeps label cardinality fixed: product ids and paths are unbounded.
func kind(tag string) string {
	if strings.HasPrefix(tag, tagstore.PathPrefix) {
		return "path"
	}
	return "tag"
}
