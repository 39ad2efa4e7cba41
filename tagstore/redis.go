package tagstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares tag versions across processes and survives restarts.
// An optional TTL bounds key growth. It must exceed the longest profile
// expire window: a version that expires reads as 0 again, which could
// revalidate an entry written at version 0.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
}

var _ TagStore = (*Redis)(nil)

// NewRedis creates a Redis-backed tag store without TTL.
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{rdb: client, ns: namespace}
}

// NewRedisWithTTL creates a Redis-backed tag store whose keys expire ttl after
// their last bump. ttl <= 0 disables expiry.
func NewRedisWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ns: namespace, ttl: ttl}
}

func (s *Redis) key(tag string) string { return "tagver:" + s.ns + ":" + tag }

// Versions reads all tags with one MGET. Missing keys map to 0.
func (s *Redis) Versions(ctx context.Context, tags []string) (map[string]uint64, error) {
	if len(tags) == 0 {
		return map[string]uint64{}, nil
	}
	keys := make([]string, len(tags))
	for i, t := range tags {
		keys[i] = s.key(t)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(tags))
	for i, v := range vals {
		var raw string
		switch vv := v.(type) {
		case nil:
			out[tags[i]] = 0
			continue
		case string:
			raw = vv
		case []byte:
			raw = string(vv)
		default:
			raw = fmt.Sprint(vv)
		}
		u, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis tag version parse at %s: %w", tags[i], err)
		}
		out[tags[i]] = u
	}
	return out, nil
}

// Bump increments the version and, when ttl > 0, refreshes the expiry in the
// same pipelined round-trip.
func (s *Redis) Bump(ctx context.Context, tag string) (uint64, error) {
	k := s.key(tag)

	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Close is a no-op. The client is owned by the caller.
func (s *Redis) Close(context.Context) error { return nil }
