// Package mirror is the client-side result cache.
//
// A Mirror is volatile and unbounded: entries live until their TTL passes or
// the mirror is cleared. Every clear bumps the mirror's version, which is how
// views built on earlier data learn they must refetch. A local Clear is also
// published on the bus so sibling contexts clear too; a clear received from
// the bus is applied locally and never re-published.
package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/bus"
	"github.com/VitorFirmino/cachelab/internal/util"
)

// Key returns the mirror key of an operation: "<op>?<sorted params>" with
// empty values dropped.
func Key(op string, params map[string]string) string { return util.OperationKey(op, params) }

// WithBust appends a one-off bypass token to a key.
func WithBust(key, token string) string { return util.WithBust(key, token) }

type entry struct {
	data    any
	expires time.Time
	stored  time.Time
}

// Stats is a point-in-time view of the mirror's counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

type Options struct {
	Bus    bus.Bus // nil => no cross-context propagation
	Logger cachelab.Logger
	Now    func() time.Time
	// PublishTimeout bounds the bus publish issued by Clear. 0 => 2s.
	PublishTimeout time.Duration
}

type Mirror struct {
	bus            bus.Bus
	log            cachelab.Logger
	now            func() time.Time
	publishTimeout time.Duration

	mu        sync.Mutex
	entries   map[string]entry
	hits      uint64
	misses    uint64
	version   uint64
	listeners map[uint64]func(uint64)
	nextID    uint64
	unsub     func()
}

func New(opts Options) *Mirror {
	m := &Mirror{
		bus:            opts.Bus,
		log:            cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "mirror"}),
		now:            opts.Now,
		publishTimeout: util.Coalesce(opts.PublishTimeout, 2*time.Second),
		entries:        make(map[string]entry),
		listeners:      make(map[uint64]func(uint64)),
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Init subscribes to the bus. Calling it twice is a no-op.
func (m *Mirror) Init() error {
	if m.bus == nil {
		return nil
	}
	m.mu.Lock()
	if m.unsub != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	unsub, err := m.bus.Subscribe(m.onEvent)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()
	return nil
}

// Dispose unsubscribes from the bus and drops every entry and listener.
// The version is left as is.
func (m *Mirror) Dispose() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.entries = make(map[string]entry)
	m.listeners = make(map[uint64]func(uint64))
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (m *Mirror) onEvent(ev bus.Event) {
	if ev.Token == "" {
		return
	}
	m.log.Debug("mirror.remote_clear", cachelab.Fields{"origin": ev.Origin})
	m.clearLocal()
}

// Get returns the data stored under key if it has not expired. Each call
// counts as exactly one hit or one miss. Expired entries are evicted here.
func (m *Mirror) Get(key string) (any, bool) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false
	}
	if !now.Before(e.expires) {
		delete(m.entries, key)
		m.misses++
		return nil, false
	}
	m.hits++
	return e.data, true
}

// Lookup is Get with a type assertion. A value of another type counts as a
// hit in Stats but is reported as absent.
func Lookup[T any](m *Mirror, key string) (T, bool) {
	v, ok := m.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Set stores data under key for ttl, replacing any previous entry.
func (m *Mirror) Set(key string, data any, ttl time.Duration) {
	now := m.now()
	m.mu.Lock()
	m.entries[key] = entry{data: data, expires: now.Add(ttl), stored: now}
	m.mu.Unlock()
}

// Clear empties the mirror, resets counters, bumps the version, notifies
// listeners and publishes a clear event for sibling contexts.
func (m *Mirror) Clear() {
	m.clearLocal()
	if m.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.publishTimeout)
	defer cancel()
	if err := m.bus.Publish(ctx, bus.ClearEvent(m.now())); err != nil {
		m.log.Warn("mirror.publish_failed", cachelab.Fields{"err": err})
	}
}

func (m *Mirror) clearLocal() {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.hits, m.misses = 0, 0
	m.version++
	v := m.version
	ls := make([]func(uint64), 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.mu.Unlock()

	// outside the lock: listeners may read the mirror
	for _, l := range ls {
		l(v)
	}
}

// StoredAt reports when the live entry under key was written. It does not
// touch the hit/miss counters.
func (m *Mirror) StoredAt(key string) (time.Time, bool) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !now.Before(e.expires) {
		return time.Time{}, false
	}
	return e.stored, true
}

func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Entries: len(m.entries), Hits: m.hits, Misses: m.misses}
}

func (m *Mirror) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Subscribe registers fn to be called with the new version after every
// clear. The returned func unsubscribes and is safe to call twice.
func (m *Mirror) Subscribe(fn func(version uint64)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}
