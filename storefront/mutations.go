package storefront

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/invalidation"
	"github.com/VitorFirmino/cachelab/profile"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validPrice(p float64) bool { return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0 }

func notFound(err error) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func (s *Service) CreateProduct(ctx context.Context, np catalog.NewProduct) (catalog.Product, error) {
	np.Name = strings.TrimSpace(np.Name)
	switch {
	case np.Name == "":
		return catalog.Product{}, invalid("name is required")
	case !validPrice(np.Price):
		return catalog.Product{}, invalid("price must be a non-negative number")
	case np.Stock < 0:
		return catalog.Product{}, invalid("stock must not be negative")
	case np.CategoryID != nil && *np.CategoryID <= 0:
		return catalog.Product{}, invalid("categoryId must be positive")
	}
	p, err := s.writer.CreateProduct(ctx, np)
	if err != nil {
		return catalog.Product{}, notFound(err)
	}
	s.invalidate(ctx, invalidation.ForCreateProduct(p.ID))
	s.log.Info("storefront.product_created", cachelab.Fields{"product": p.ID})
	return p, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, price float64, stock int) (catalog.Product, error) {
	switch {
	case id <= 0:
		return catalog.Product{}, invalid("id must be positive")
	case !validPrice(price):
		return catalog.Product{}, invalid("price must be a non-negative number")
	case stock < 0:
		return catalog.Product{}, invalid("stock must not be negative")
	}
	p, err := s.writer.UpdateProduct(ctx, id, price, stock)
	if err != nil {
		return catalog.Product{}, notFound(err)
	}
	s.invalidate(ctx, invalidation.ForUpdateProduct(id))
	return p, nil
}

// DeleteProduct removes the product and its events.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if id <= 0 {
		return invalid("id must be positive")
	}
	if _, err := s.writer.DeleteProduct(ctx, id); err != nil {
		return notFound(err)
	}
	s.invalidate(ctx, invalidation.ForDeleteProduct(id))
	s.log.Info("storefront.product_deleted", cachelab.Fields{"product": id})
	return nil
}

func (s *Service) CreateEvent(ctx context.Context, ne catalog.NewEvent) (catalog.Event, error) {
	ne.Type = strings.TrimSpace(ne.Type)
	ne.Message = strings.TrimSpace(ne.Message)
	switch {
	case ne.Type == "":
		return catalog.Event{}, invalid("type is required")
	case ne.Message == "":
		return catalog.Event{}, invalid("message is required")
	case ne.ProductID != nil && *ne.ProductID <= 0:
		return catalog.Event{}, invalid("productId must be positive")
	}
	e, err := s.writer.CreateEvent(ctx, ne)
	if err != nil {
		return catalog.Event{}, notFound(err)
	}
	s.invalidate(ctx, invalidation.ForCreateEvent(e.ProductID))
	return e, nil
}

// Checkout returns *checkout.Error on failure. Invalidation happens inside
// the manager once the transaction committed.
func (s *Service) Checkout(ctx context.Context, items []checkout.Item) (checkout.OrderSummary, error) {
	return s.checkout.Checkout(ctx, items)
}

// Profiles lists every profile with its active TTL.
func (s *Service) Profiles(ctx context.Context) []profile.Profile {
	return s.profiles.List(ctx)
}

// UpdateCacheTTL changes the TTL of profile id and invalidates what it
// governs. Errors are *profile.Error.
func (s *Service) UpdateCacheTTL(ctx context.Context, id string, ttl profile.TTL) (profile.Profile, error) {
	pid, err := profile.ParseID(id)
	if err != nil {
		return profile.Profile{}, err
	}
	p, err := s.profiles.Set(ctx, pid, ttl)
	if err != nil {
		return profile.Profile{}, err
	}
	s.invalidate(ctx, invalidation.ForProfileChange(pid))
	return p, nil
}

// PurgeAll invalidates every known tag and tells client mirrors to clear.
func (s *Service) PurgeAll(ctx context.Context) invalidation.Report {
	rep := s.invalidate(ctx, invalidation.ForPurgeAll())
	s.broadcastClear(ctx)
	s.log.Info("storefront.purge_all", cachelab.Fields{"invalidated": len(rep.Invalidated), "failed": len(rep.Failed)})
	return rep
}

// PurgeByTags invalidates the named tags. Blank names are dropped.
func (s *Service) PurgeByTags(ctx context.Context, tags []string) (invalidation.Report, error) {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		clean = append(clean, strings.TrimSpace(t))
	}
	set := invalidation.ForTags(clean)
	if len(set.Tags) == 0 {
		return invalidation.Report{}, invalid("at least one tag is required")
	}
	rep := s.invalidate(ctx, set)
	s.broadcastClear(ctx)
	return rep, nil
}
