// Package storefront is the application surface: cached reads of the
// catalog and the mutations that invalidate them.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/bus"
	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/codec"
	"github.com/VitorFirmino/cachelab/directive"
	"github.com/VitorFirmino/cachelab/invalidation"
	"github.com/VitorFirmino/cachelab/profile"
	pr "github.com/VitorFirmino/cachelab/provider"
	"github.com/VitorFirmino/cachelab/tagstore"
)

var (
	ErrNotFound     = errors.New("storefront: not found")
	ErrInvalidInput = errors.New("storefront: invalid input")
)

const defaultInvalidateTimeout = 5 * time.Second

type Options struct {
	Reader   catalog.Reader    // required
	Writer   catalog.Writer    // required
	Checkout *checkout.Manager // required
	Profiles *profile.Store    // required

	Provider    pr.Provider              // required
	TagStore    tagstore.TagStore        // required
	Invalidator invalidation.Invalidator // nil => broadcaster over TagStore

	// Bus receives a clear event after purges. Optional.
	Bus bus.Bus

	Codec     string // json | msgpack | cbor
	MaxDecode int    // payload size limit, 0 => none
	Namespace string

	Hooks             cachelab.Hooks
	Logger            cachelab.Logger
	Now               func() time.Time
	RefreshTimeout    time.Duration
	InvalidateTimeout time.Duration // bound on post-commit invalidation; 0 => 5s
	DisableCache      bool
}

type Service struct {
	reader   catalog.Reader
	writer   catalog.Writer
	checkout *checkout.Manager
	profiles *profile.Store
	inv      invalidation.Invalidator
	bus      bus.Bus
	log      cachelab.Logger
	now      func() time.Time
	invWait  time.Duration

	featured      *directive.Directive[int, []catalog.Product]
	productsPage  *directive.Directive[catalog.PageQuery, catalog.Page]
	productByID   *directive.Directive[productArgs, *catalog.Product]
	productEvents *directive.Directive[eventArgs, []catalog.Event]
	categories    *directive.Directive[struct{}, []catalog.Category]
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Reader == nil || opts.Writer == nil:
		return nil, errors.New("storefront: catalog reader and writer are required")
	case opts.Checkout == nil:
		return nil, errors.New("storefront: checkout manager is required")
	case opts.Profiles == nil:
		return nil, errors.New("storefront: profile store is required")
	case opts.Provider == nil || opts.TagStore == nil:
		return nil, errors.New("storefront: provider and tag store are required")
	}

	s := &Service{
		reader:   opts.Reader,
		writer:   opts.Writer,
		checkout: opts.Checkout,
		profiles: opts.Profiles,
		inv:      opts.Invalidator,
		bus:      opts.Bus,
		log:      cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "storefront"}),
		now:      opts.Now,
		invWait:  opts.InvalidateTimeout,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.invWait <= 0 {
		s.invWait = defaultInvalidateTimeout
	}
	if s.inv == nil {
		b, err := invalidation.New(invalidation.Options{TagStore: opts.TagStore, Hooks: opts.Hooks, Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		s.inv = b
	}

	base := baseOptions{
		provider:  opts.Provider,
		tags:      opts.TagStore,
		profiles:  opts.Profiles,
		namespace: opts.Namespace,
		hooks:     opts.Hooks,
		logger:    opts.Logger,
		now:       opts.Now,
		refresh:   opts.RefreshTimeout,
		disabled:  opts.DisableCache,
		codec:     opts.Codec,
		maxDecode: opts.MaxDecode,
	}
	var err error
	if s.featured, err = newFeatured(base, s.reader); err != nil {
		return nil, err
	}
	if s.productsPage, err = newProductsPage(base, s.reader); err != nil {
		return nil, err
	}
	if s.productByID, err = newProductByID(base, s.reader); err != nil {
		return nil, err
	}
	if s.productEvents, err = newProductEvents(base, s.reader); err != nil {
		return nil, err
	}
	if s.categories, err = newCategories(base, s.reader); err != nil {
		return nil, err
	}
	return s, nil
}

// Wait blocks until in-flight background refreshes finish.
func (s *Service) Wait() {
	s.featured.Wait()
	s.productsPage.Wait()
	s.productByID.Wait()
	s.productEvents.Wait()
	s.categories.Wait()
}

// Profile returns the active profile of id.
func (s *Service) Profile(ctx context.Context, id profile.ID) profile.Profile {
	return s.profiles.Get(ctx, id)
}

// CacheControl renders the HTTP caching directive of p.
func CacheControl(p profile.Profile) string {
	if p.TTL.Expire <= 0 {
		return "no-store"
	}
	return fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d", p.TTL.Stale, p.TTL.Revalidate)
}

// invalidate runs after a commit, so it must not be cut short by the caller
// going away.
func (s *Service) invalidate(ctx context.Context, set invalidation.Set) invalidation.Report {
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.invWait)
	defer cancel()
	return s.inv.Invalidate(ictx, set)
}

func (s *Service) broadcastClear(ctx context.Context) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, bus.ClearEvent(s.now())); err != nil {
		s.log.Warn("storefront.clear_publish_failed", cachelab.Fields{"err": err})
	}
}

type baseOptions struct {
	provider  pr.Provider
	tags      tagstore.TagStore
	profiles  directive.ProfileSource
	namespace string
	hooks     cachelab.Hooks
	logger    cachelab.Logger
	now       func() time.Time
	refresh   time.Duration
	disabled  bool
	codec     string
	maxDecode int
}

func directiveFor[A, T any](b baseOptions, op string, id profile.ID, compute func(context.Context, A) (T, error),
	params func(A) map[string]string, tags func(A) []string, paths func(A) []string,
) (*directive.Directive[A, T], error) {
	c, err := codec.ByName[T](b.codec, b.maxDecode)
	if err != nil {
		return nil, err
	}
	return directive.New(directive.Options[A, T]{
		Operation:      op,
		Profile:        id,
		Compute:        compute,
		Params:         params,
		Tags:           tags,
		Paths:          paths,
		Provider:       b.provider,
		TagStore:       b.tags,
		Profiles:       b.profiles,
		Codec:          c,
		Namespace:      b.namespace,
		Hooks:          b.hooks,
		Logger:         b.logger,
		Now:            b.now,
		RefreshTimeout: b.refresh,
		Disabled:       b.disabled,
	})
}
