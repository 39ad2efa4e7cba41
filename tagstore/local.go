package tagstore

import (
	"context"
	"sync"
)

// Local keeps tag versions in-process.
// Versions are never pruned: the tag space (fixed tags, product:<id>, path:<p>)
// grows with the catalog, not with traffic.
type Local struct {
	mu   sync.RWMutex
	vers map[string]uint64
}

var _ TagStore = (*Local)(nil)

func NewLocal() *Local {
	return &Local{vers: make(map[string]uint64)}
}

// Versions acquires the read lock once for all requested tags.
func (s *Local) Versions(_ context.Context, tags []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(tags))
	s.mu.RLock()
	for _, t := range tags {
		out[t] = s.vers[t]
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Local) Bump(_ context.Context, tag string) (uint64, error) {
	s.mu.Lock()
	s.vers[tag]++
	v := s.vers[tag]
	s.mu.Unlock()
	return v, nil
}

func (s *Local) Close(context.Context) error { return nil }
