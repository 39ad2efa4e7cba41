package mirror

import (
	"context"
	"time"
)

// FetchInfo describes the last read-through request.
type FetchInfo struct {
	Key      string        `json:"key"`
	Hit      bool          `json:"hit"`
	Duration time.Duration `json:"durationNs"`
}

// Fetch reads key from the mirror and falls back to remote on a miss,
// storing the remote result for ttl. Remote errors are returned as is and
// nothing is stored.
func Fetch[T any](ctx context.Context, m *Mirror, key string, ttl time.Duration, remote func(context.Context) (T, error)) (T, FetchInfo, error) {
	start := time.Now()
	if v, ok := Lookup[T](m, key); ok {
		return v, FetchInfo{Key: key, Hit: true, Duration: time.Since(start)}, nil
	}
	v, err := remote(ctx)
	info := FetchInfo{Key: key, Duration: time.Since(start)}
	if err != nil {
		var zero T
		return zero, info, err
	}
	m.Set(key, v, ttl)
	return v, info, nil
}
