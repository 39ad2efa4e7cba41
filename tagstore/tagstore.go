// Package tagstore keeps one version counter per invalidation tag.
//
// A directive records the versions of its tags before computing, stores them
// next to the result, and treats the result as absent once any of them moved.
// Invalidating a tag is therefore a single Bump; nothing has to find and delete
// the entries that carry it.
package tagstore

import "context"

// TagStore abstracts where tag versions live.
// Use Local for a single process, or Redis to share versions across replicas.
type TagStore interface {
	// Versions returns the current version of every requested tag; missing => 0.
	// The result holds an entry for each distinct input tag.
	Versions(ctx context.Context, tags []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new version of tag.
	Bump(ctx context.Context, tag string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}

// PathPrefix namespaces page paths inside the tag space.
const PathPrefix = "path:"

// PathTag returns the tag tracking page path p.
func PathTag(p string) string { return PathPrefix + p }
