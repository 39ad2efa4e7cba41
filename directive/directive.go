// Package directive caches the result of a read operation on the server side.
//
// A Directive wraps one compute function. Results are keyed by the operation
// and its parameters, tagged with invalidation tags, and aged against the
// TTL profile that is active at read time:
//
//	age < stale                serve cached                      (fresh)
//	stale <= age < revalidate  serve cached, refresh in background (stale)
//	revalidate <= age < expire recompute before answering        (recomputed)
//	age >= expire / missing    recompute                         (miss)
//
// An entry whose recorded tag versions no longer match the tag store is
// treated as missing. Invalidation never has to locate entries.
//
// CAS pattern:
//
//	obs := tags.Versions(entryTags) // before compute
//	v   := compute()
//	store(v, obs)                   // skipped if any version moved meanwhile
package directive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/codec"
	"github.com/VitorFirmino/cachelab/internal/util"
	"github.com/VitorFirmino/cachelab/internal/wire"
	"github.com/VitorFirmino/cachelab/profile"
	pr "github.com/VitorFirmino/cachelab/provider"
	"github.com/VitorFirmino/cachelab/tagstore"
)

const (
	defaultNamespace      = "cachelab"
	defaultRefreshTimeout = 10 * time.Second
)

// Status describes how a read was answered.
type Status string

const (
	StatusFresh        Status = "fresh"
	StatusStale        Status = "stale"
	StatusRecomputed   Status = "recomputed"
	StatusMiss         Status = "miss"
	StatusStaleOnError Status = "stale_on_error"
)

// ProfileSource resolves the active TTL profile. *profile.Store implements it.
type ProfileSource interface {
	Get(ctx context.Context, id profile.ID) profile.Profile
}

// Result is a computed value and the moment it was produced.
type Result[T any] struct {
	Value       T
	GeneratedAt time.Time
	Status      Status
	Key         string
	Profile     profile.Profile
}

// Options configure a Directive. Operation, Profile, Compute, Provider,
// TagStore and Profiles are required.
type Options[A, T any] struct {
	Operation string
	Profile   profile.ID
	Compute   func(ctx context.Context, args A) (T, error)

	// Params names the arguments that distinguish results. nil => no params.
	Params func(A) map[string]string
	// Tags and Paths group results for invalidation. The profile id is
	// always added as a tag.
	Tags  func(A) []string
	Paths func(A) []string

	Provider pr.Provider
	TagStore tagstore.TagStore
	Profiles ProfileSource
	Codec    codec.Codec[T] // nil => codec.JSON

	Namespace      string // storage key prefix; "" => "cachelab"
	Hooks          cachelab.Hooks
	Logger         cachelab.Logger
	Now            func() time.Time
	RefreshTimeout time.Duration // bound on a shared recompute; 0 => 10s
	Disabled       bool          // compute on every call, store nothing
}

type Directive[A, T any] struct {
	op      string
	profile profile.ID
	compute func(context.Context, A) (T, error)
	params  func(A) map[string]string
	tags    func(A) []string
	paths   func(A) []string

	provider pr.Provider
	tagstore tagstore.TagStore
	profiles ProfileSource
	codec    codec.Codec[T]

	prefix         string
	hooks          cachelab.Hooks
	log            cachelab.Logger
	now            func() time.Time
	refreshTimeout time.Duration
	disabled       bool

	sf         singleflight.Group
	refreshing sync.Map // storage key -> struct{}; one background refresh per key
	bg         sync.WaitGroup
}

func New[A, T any](opts Options[A, T]) (*Directive[A, T], error) {
	switch {
	case opts.Operation == "":
		return nil, errors.New("directive: operation is required")
	case !opts.Profile.Valid():
		return nil, fmt.Errorf("directive: invalid profile %q", opts.Profile)
	case opts.Compute == nil:
		return nil, errors.New("directive: compute is required")
	case opts.Provider == nil:
		return nil, errors.New("directive: provider is required")
	case opts.TagStore == nil:
		return nil, errors.New("directive: tag store is required")
	case opts.Profiles == nil:
		return nil, errors.New("directive: profile source is required")
	}

	d := &Directive[A, T]{
		op:       opts.Operation,
		profile:  opts.Profile,
		compute:  opts.Compute,
		params:   opts.Params,
		tags:     opts.Tags,
		paths:    opts.Paths,
		provider: opts.Provider,
		tagstore: opts.TagStore,
		profiles: opts.Profiles,
		codec:    opts.Codec,
		hooks:    cachelab.HooksOr(opts.Hooks),
		now:      opts.Now,
		disabled: opts.Disabled,
	}
	if d.codec == nil {
		d.codec = codec.JSON[T]{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.prefix = "entry:" + util.Coalesce(opts.Namespace, defaultNamespace)
	d.refreshTimeout = util.Coalesce(opts.RefreshTimeout, defaultRefreshTimeout)
	d.log = cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "directive", "op": d.op})
	return d, nil
}

func (d *Directive[A, T]) Operation() string     { return d.op }
func (d *Directive[A, T]) ProfileID() profile.ID { return d.profile }

// Key returns the operation key for args: "<operation>?<sorted params>".
func (d *Directive[A, T]) Key(args A) string {
	var params map[string]string
	if d.params != nil {
		params = d.params(args)
	}
	return util.OperationKey(d.op, params)
}

// TagsFor returns every tag an entry for args carries, sorted.
func (d *Directive[A, T]) TagsFor(args A) []string {
	all := []string{string(d.profile)}
	if d.tags != nil {
		all = append(all, d.tags(args)...)
	}
	if d.paths != nil {
		for _, p := range d.paths(args) {
			all = append(all, tagstore.PathTag(p))
		}
	}
	return util.SortedUnique(all)
}

// Wait blocks until every background refresh started so far has finished.
func (d *Directive[A, T]) Wait() { d.bg.Wait() }

// Execute answers a read for args according to the active profile.
func (d *Directive[A, T]) Execute(ctx context.Context, args A) (Result[T], error) {
	key := d.Key(args)
	prof := d.profiles.Get(ctx, d.profile)
	res := Result[T]{Key: key, Profile: prof}

	if d.disabled || prof.TTL.Expire <= 0 {
		v, at, err := d.computeOnly(ctx, args)
		if err != nil {
			return res, err
		}
		res.Value, res.GeneratedAt, res.Status = v, at, StatusMiss
		d.hooks.EntryServed(d.op, string(StatusMiss))
		return res, nil
	}

	skey := util.StorageKey(d.prefix, key)
	tags := d.TagsFor(args)
	ttl := prof.TTL

	cached, hit := d.load(ctx, skey)
	if hit {
		age := d.now().Sub(cached.at)
		switch {
		case age < ttl.StaleAfter():
			return d.serve(res, cached, StatusFresh), nil
		case age < ttl.RevalidateAfter():
			d.refresh(ctx, skey, args, tags, ttl)
			return d.serve(res, cached, StatusStale), nil
		case age < ttl.ExpireAfter():
			v, err := d.recompute(ctx, skey, args, tags, ttl)
			if err != nil {
				d.log.Warn("directive.recompute_failed_serving_stale", cachelab.Fields{"key": key, "err": err})
				return d.serve(res, cached, StatusStaleOnError), nil
			}
			return d.serve(res, v, StatusRecomputed), nil
		}
	}

	v, err := d.recompute(ctx, skey, args, tags, ttl)
	if err != nil {
		return res, err
	}
	return d.serve(res, v, StatusMiss), nil
}

type computed[T any] struct {
	v  T
	at time.Time
}

func (d *Directive[A, T]) serve(res Result[T], c computed[T], st Status) Result[T] {
	res.Value, res.GeneratedAt, res.Status = c.v, c.at, st
	d.hooks.EntryServed(d.op, string(st))
	return res
}

func (d *Directive[A, T]) computeOnly(ctx context.Context, args A) (T, time.Time, error) {
	start := time.Now()
	v, err := d.compute(ctx, args)
	d.hooks.EntryRecomputed(d.op, false, time.Since(start), err)
	return v, d.now(), err
}

// load returns a validated entry. Corrupt, undecodable or outdated entries
// are deleted and reported as a miss.
func (d *Directive[A, T]) load(ctx context.Context, skey string) (computed[T], bool) {
	var zero computed[T]
	raw, ok, err := d.provider.Get(ctx, skey)
	if err != nil {
		d.log.Warn("directive.provider_get_failed", cachelab.Fields{"key": skey, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	e, err := wire.DecodeEntry(raw)
	if err != nil {
		d.drop(ctx, skey, "corrupt")
		return zero, false
	}

	names := make([]string, len(e.Tags))
	for i, tv := range e.Tags {
		names[i] = tv.Tag
	}
	cur, err := d.tagstore.Versions(ctx, names)
	if err != nil {
		// cannot prove the entry is current; do not serve it
		d.hooks.TagVersionsError(len(names), err)
		return zero, false
	}
	for _, tv := range e.Tags {
		if cur[tv.Tag] != tv.Version {
			d.drop(ctx, skey, "tag_mismatch")
			return zero, false
		}
	}

	v, err := d.codec.Decode(e.Payload)
	if err != nil {
		d.drop(ctx, skey, "value_decode")
		return zero, false
	}
	return computed[T]{v: v, at: e.ComputedAt}, true
}

func (d *Directive[A, T]) drop(ctx context.Context, skey, reason string) {
	_ = d.provider.Del(ctx, skey)
	d.hooks.EntryDropped(skey, reason)
	d.log.Debug("directive.entry_dropped", cachelab.Fields{"key": skey, "reason": reason})
}

// recompute runs compute once per storage key no matter how many callers
// arrive concurrently, and stores the result when the tags did not move.
func (d *Directive[A, T]) recompute(ctx context.Context, skey string, args A, tags []string, ttl profile.TTL) (computed[T], error) {
	return d.recomputeShared(ctx, skey, args, tags, ttl, false)
}

// recomputeShared computes under a context detached from the leader's
// cancellation, bounded by the refresh timeout. Each caller still stops
// waiting when its own ctx is done.
func (d *Directive[A, T]) recomputeShared(ctx context.Context, skey string, args A, tags []string, ttl profile.TTL, background bool) (computed[T], error) {
	ch := d.sf.DoChan(skey, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.refreshTimeout)
		defer cancel()

		obs, verr := d.tagstore.Versions(ctx, tags)
		if verr != nil {
			d.hooks.TagVersionsError(len(tags), verr)
			obs = nil
		}

		start := time.Now()
		val, err := d.compute(ctx, args)
		d.hooks.EntryRecomputed(d.op, background, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		c := computed[T]{v: val, at: d.now()}
		if obs != nil {
			d.store(ctx, skey, tags, obs, c, ttl)
		}
		return c, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return computed[T]{}, r.Err
		}
		return r.Val.(computed[T]), nil
	case <-ctx.Done():
		return computed[T]{}, ctx.Err()
	}
}

// store writes c iff every observed tag version is still current.
func (d *Directive[A, T]) store(ctx context.Context, skey string, tags []string, obs map[string]uint64, c computed[T], ttl profile.TTL) {
	cur, err := d.tagstore.Versions(ctx, tags)
	if err != nil {
		d.hooks.TagVersionsError(len(tags), err)
		return
	}
	tv := make([]wire.TagVersion, 0, len(tags))
	for _, t := range tags {
		if cur[t] != obs[t] {
			// invalidated while computing; skip stale write
			d.log.Debug("directive.store_skipped", cachelab.Fields{"key": skey, "tag": t})
			return
		}
		tv = append(tv, wire.TagVersion{Tag: t, Version: obs[t]})
	}

	payload, err := d.codec.Encode(c.v)
	if err != nil {
		d.log.Error("directive.encode_failed", cachelab.Fields{"key": skey, "err": err})
		return
	}
	raw, err := wire.EncodeEntry(wire.Entry{ComputedAt: c.at, Tags: tv, Payload: payload})
	if err != nil {
		d.log.Error("directive.frame_failed", cachelab.Fields{"key": skey, "err": err})
		return
	}
	ok, err := d.provider.Set(ctx, skey, raw, int64(len(raw)), ttl.ExpireAfter())
	if err != nil {
		d.log.Warn("directive.provider_set_failed", cachelab.Fields{"key": skey, "err": err})
		return
	}
	if !ok {
		d.hooks.ProviderSetRejected(skey)
	}
}

// refresh starts at most one background recompute per key. It runs detached
// from the caller's cancellation, bounded by the refresh timeout.
func (d *Directive[A, T]) refresh(ctx context.Context, skey string, args A, tags []string, ttl profile.TTL) {
	if _, busy := d.refreshing.LoadOrStore(skey, struct{}{}); busy {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.refreshTimeout)
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		defer cancel()
		defer d.refreshing.Delete(skey)
		if _, err := d.recomputeShared(bctx, skey, args, tags, ttl, true); err != nil {
			d.log.Warn("directive.background_refresh_failed", cachelab.Fields{"key": skey, "err": err})
		}
	}()
}
