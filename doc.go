// Package cachelab coordinates the caches of a read-heavy storefront and keeps
// them consistent with writes.
//
// Components:
//   - profile: TTL profiles (stale / revalidate / expire) with in-memory overrides.
//   - directive: server-side computed-result cache keyed by operation + params,
//     tagged with invalidation tags and served stale-while-revalidate.
//   - invalidation: bumps tag versions after a write commits. Best effort per tag.
//   - mirror: client-side result cache with a version counter and listeners.
//   - bus: cross-context "clear" broadcast (in-process hub or Redis pub/sub).
//   - checkout: transactional, conditional stock decrement with a single retry.
//
// Write flow:
//
//	commit write -> invalidation.Invalidate(tags, paths) -> next directive read recomputes
//	client mirror.Clear() -> bus.Publish -> other mirrors clear + bump version -> refetch
//
// This package holds the shared vocabulary (Logger, Fields, Hooks) used by the
// subpackages. It imports none of them.
package cachelab
