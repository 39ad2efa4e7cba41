package mirror

import (
	"context"
	"sync"
	"time"
)

// State of a Subscription.
type State int

const (
	Idle State = iota
	Fetching
	Ready
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Ready:
		return "ready"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Subscription keeps one read current against a Mirror.
//
//	Idle -> Fetching -> Ready(data) | Errored(err)
//
// Transitions happen on hydration (Start), on a mirror version change
// (Changed + Sync, or Watch), and on explicit Refresh.
type Subscription[T any] struct {
	m     *Mirror
	key   string
	ttl   time.Duration
	fetch func(context.Context) (T, error)

	mu      sync.Mutex
	state   State
	data    T
	err     error
	trusted uint64
	last    FetchInfo

	changed chan struct{}
	unsub   func()
}

// NewSubscription watches key on m. fetch performs the remote read.
func NewSubscription[T any](m *Mirror, key string, ttl time.Duration, fetch func(context.Context) (T, error)) *Subscription[T] {
	s := &Subscription[T]{m: m, key: key, ttl: ttl, fetch: fetch, changed: make(chan struct{}, 1)}
	s.unsub = m.Subscribe(func(uint64) {
		select {
		case s.changed <- struct{}{}:
		default: // already pending
		}
	})
	return s
}

// Start hydrates the subscription. Server-rendered initial data is stored in
// the mirror and trusted at the current version without a fetch; otherwise
// the value is read through the mirror.
func (s *Subscription[T]) Start(ctx context.Context, initial *T) error {
	if initial != nil {
		v := s.m.Version()
		s.m.Set(s.key, *initial, s.ttl)
		s.mu.Lock()
		s.state, s.data, s.err, s.trusted = Ready, *initial, nil, v
		s.mu.Unlock()
		return nil
	}
	return s.load(ctx)
}

// Changed signals that the mirror version moved. Multiple changes between
// receives coalesce into one signal.
func (s *Subscription[T]) Changed() <-chan struct{} { return s.changed }

// Sync refetches if the mirror version differs from the one the current data
// was fetched at. It reports whether a fetch happened.
func (s *Subscription[T]) Sync(ctx context.Context) (bool, error) {
	s.mu.Lock()
	stale := s.state == Idle || s.trusted != s.m.Version()
	s.mu.Unlock()
	if !stale {
		return false, nil
	}
	return true, s.load(ctx)
}

// Refresh refetches through the mirror regardless of the version.
func (s *Subscription[T]) Refresh(ctx context.Context) error { return s.load(ctx) }

// Watch calls Sync on every version change until ctx is done.
func (s *Subscription[T]) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.changed:
			_, _ = s.Sync(ctx)
		}
	}
}

func (s *Subscription[T]) load(ctx context.Context) error {
	s.mu.Lock()
	s.state = Fetching
	s.mu.Unlock()

	v := s.m.Version()
	data, info, err := Fetch(ctx, s.m, s.key, s.ttl, s.fetch)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = info
	if err != nil {
		s.state, s.err = Errored, err
		return err
	}
	s.state, s.data, s.err, s.trusted = Ready, data, nil, v
	return nil
}

// Snapshot returns the current state with its data or error.
func (s *Subscription[T]) Snapshot() (State, T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.data, s.err
}

// LastFetch describes the most recent read-through.
func (s *Subscription[T]) LastFetch() FetchInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Close stops listening to the mirror.
func (s *Subscription[T]) Close() { s.unsub() }
