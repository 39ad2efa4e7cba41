// Package invalidation bumps the versions of tags and paths after a write
// commits, so every cached result that carries them is recomputed on its
// next read.
//
// Invalidation is synchronous but best effort: each member is bumped on its
// own, a failure never rolls back members already bumped, and the write that
// triggered it stays committed either way.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/tagstore"
)

// Invalidator is what writers depend on. *Broadcaster implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, s Set) Report
}

type Options struct {
	TagStore tagstore.TagStore // required
	Hooks    cachelab.Hooks
	Logger   cachelab.Logger
}

type Broadcaster struct {
	tags  tagstore.TagStore
	hooks cachelab.Hooks
	log   cachelab.Logger
}

var _ Invalidator = (*Broadcaster)(nil)

func New(opts Options) (*Broadcaster, error) {
	if opts.TagStore == nil {
		return nil, errors.New("invalidation: tag store is required")
	}
	return &Broadcaster{
		tags:  opts.TagStore,
		hooks: cachelab.HooksOr(opts.Hooks),
		log:   cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "invalidation"}),
	}, nil
}

// Report lists what was invalidated and what failed. Members are tag names;
// paths appear with their "path:" prefix.
type Report struct {
	Invalidated []string
	Failed      map[string]error
}

// OK reports whether the invalidation was successful enough: nothing failed,
// or at least one member went through.
func (r Report) OK() bool { return len(r.Failed) == 0 || len(r.Invalidated) > 0 }

// Err returns a *PartialFailureError when any member failed, nil otherwise.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &PartialFailureError{Invalidated: r.Invalidated, Failed: r.Failed}
}

// Invalidate bumps every tag and path in s. It never stops at the first
// failure and never undoes a bump.
func (b *Broadcaster) Invalidate(ctx context.Context, s Set) Report {
	s = s.Normalize()
	members := make([]string, 0, len(s.Tags)+len(s.Paths))
	members = append(members, s.Tags...)
	for _, p := range s.Paths {
		members = append(members, tagstore.PathTag(p))
	}

	rep := Report{Invalidated: make([]string, 0, len(members))}
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			b.fail(&rep, m, err)
			continue
		}
		if _, err := b.tags.Bump(ctx, m); err != nil {
			b.fail(&rep, m, err)
			continue
		}
		rep.Invalidated = append(rep.Invalidated, m)
		b.hooks.TagInvalidated(m)
	}

	if len(rep.Failed) > 0 {
		b.log.Error("invalidation.partial_failure", cachelab.Fields{
			"invalidated": rep.Invalidated,
			"failed":      len(rep.Failed),
			"err":         rep.Err(),
		})
	} else {
		b.log.Debug("invalidation.done", cachelab.Fields{"invalidated": rep.Invalidated})
	}
	return rep
}

func (b *Broadcaster) fail(rep *Report, member string, err error) {
	if rep.Failed == nil {
		rep.Failed = make(map[string]error)
	}
	rep.Failed[member] = err
	b.hooks.TagInvalidateFailed(member, err)
}

// PartialFailureError reports members that could not be invalidated.
type PartialFailureError struct {
	Invalidated []string
	Failed      map[string]error
}

func (e *PartialFailureError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s: %v", n, e.Failed[n])
	}
	return fmt.Sprintf("invalidate: %d of %d failed: %s",
		len(e.Failed), len(e.Failed)+len(e.Invalidated), strings.Join(parts, "; "))
}

func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}
