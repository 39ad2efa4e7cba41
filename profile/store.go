package profile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/VitorFirmino/cachelab"
)

// Options configure a Store. All fields are optional.
type Options struct {
	// Repository persists profiles. nil runs the store in storage-less mode:
	// Set only records in-memory overrides.
	Repository Repository
	Defaults   Defaults // nil => BuiltinDefaults()
	Logger     cachelab.Logger
	Now        func() time.Time
}

// Store resolves the active TTL of a profile: override, then persisted row,
// then built-in default. Safe for concurrent use.
type Store struct {
	repo     Repository
	defaults Defaults
	log      cachelab.Logger
	now      func() time.Time

	setMu     sync.Mutex // held across upsert and override
	mu        sync.RWMutex
	overrides map[ID]Profile
}

func NewStore(opts Options) *Store {
	s := &Store{
		repo:      opts.Repository,
		defaults:  opts.Defaults,
		log:       cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "profile"}),
		now:       opts.Now,
		overrides: make(map[ID]Profile),
	}
	if s.defaults == nil {
		s.defaults = BuiltinDefaults()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// StorageBacked reports whether Set persists.
func (s *Store) StorageBacked() bool { return s.repo != nil }

func (s *Store) override(id ID) (Profile, bool) {
	s.mu.RLock()
	p, ok := s.overrides[id]
	s.mu.RUnlock()
	return p, ok
}

func (s *Store) fallback(id ID) Profile {
	if p, ok := s.defaults[id]; ok {
		return p
	}
	return Profile{ID: id}
}

// Get never fails. Lookup errors are logged and resolution falls through to
// the default. Unknown ids resolve to a zero TTL, which disables caching.
func (s *Store) Get(ctx context.Context, id ID) Profile {
	if !id.Valid() {
		s.log.Warn("profile.unknown", cachelab.Fields{"profile": string(id)})
		return Profile{ID: id}
	}
	if p, ok := s.override(id); ok {
		return p
	}
	if s.repo != nil {
		p, err := s.repo.GetProfile(ctx, id)
		switch {
		case err == nil:
			if p.Label == "" {
				p.Label = s.fallback(id).Label
			}
			return p
		case errors.Is(err, ErrNotFound):
		default:
			s.log.Warn("profile.lookup_failed", cachelab.Fields{"profile": string(id), "err": err})
		}
	}
	return s.fallback(id)
}

// Set validates and applies a new TTL for id, recording it as an override so
// it wins over whatever the repository later reports.
// In storage-backed mode a persistence failure returns a STORAGE_UNAVAILABLE
// error and leaves the active TTL unchanged.
func (s *Store) Set(ctx context.Context, id ID, ttl TTL) (Profile, error) {
	if !id.Valid() {
		_, err := ParseID(string(id))
		return Profile{}, err
	}
	if err := ttl.Validate(); err != nil {
		return Profile{}, &Error{Kind: KindConfiguration, Code: CodeInvalidTTL, Message: err.Error()}
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()

	p := s.fallback(id)
	p.TTL = ttl
	p.UpdatedAt = s.now()

	if s.repo != nil {
		if err := s.repo.UpsertProfile(ctx, p); err != nil {
			s.log.Error("profile.persist_failed", cachelab.Fields{"profile": string(id), "err": err})
			return Profile{}, &Error{
				Kind:    KindStorage,
				Code:    CodeStorageUnavailable,
				Message: "cache profile table not ready; apply migrations",
				Cause:   err,
			}
		}
	}

	s.mu.Lock()
	s.overrides[id] = p
	s.mu.Unlock()

	s.log.Info("profile.updated", cachelab.Fields{
		"profile":    string(id),
		"stale":      ttl.Stale,
		"revalidate": ttl.Revalidate,
		"expire":     ttl.Expire,
		"persisted":  s.repo != nil,
	})
	return p, nil
}

// List returns one profile per id, ordered by id: persisted rows where
// present, defaults for never-configured ids, overrides on top.
// A repository failure degrades to defaults.
func (s *Store) List(ctx context.Context) []Profile {
	byID := make(map[ID]Profile, len(IDs))
	for _, id := range IDs {
		byID[id] = s.fallback(id)
	}
	if s.repo != nil {
		rows, err := s.repo.ListProfiles(ctx)
		if err != nil {
			s.log.Warn("profile.list_failed", cachelab.Fields{"err": err})
		}
		for _, r := range rows {
			if !r.ID.Valid() {
				continue
			}
			if r.Label == "" {
				r.Label = byID[r.ID].Label
			}
			byID[r.ID] = r
		}
	}

	s.mu.RLock()
	for id, p := range s.overrides {
		byID[id] = p
	}
	s.mu.RUnlock()

	out := make([]Profile, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
