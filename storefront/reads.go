package storefront

import (
	"context"
	"errors"
	"strconv"

	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/directive"
	"github.com/VitorFirmino/cachelab/internal/util"
	"github.com/VitorFirmino/cachelab/invalidation"
	"github.com/VitorFirmino/cachelab/profile"
)

// Operation names, the first half of every cache key.
const (
	OpFeatured      = "featured"
	OpProductsPage  = "products"
	OpProductByID   = "product"
	OpProductEvents = "product-events"
	OpCategories    = "categories"
)

type productArgs struct {
	ID   int64
	Bust string
}

type eventArgs struct {
	ProductID int64
	Limit     int
	Bust      string
}

func newFeatured(b baseOptions, r catalog.Reader) (*directive.Directive[int, []catalog.Product], error) {
	return directiveFor(b, OpFeatured, profile.Featured,
		r.Featured,
		func(limit int) map[string]string { return map[string]string{"limit": strconv.Itoa(limit)} },
		func(int) []string { return []string{invalidation.TagFeatured, invalidation.TagProducts} },
		func(int) []string { return []string{invalidation.PathHome} },
	)
}

func newProductsPage(b baseOptions, r catalog.Reader) (*directive.Directive[catalog.PageQuery, catalog.Page], error) {
	return directiveFor(b, OpProductsPage, profile.Products,
		r.ProductsPage,
		func(q catalog.PageQuery) map[string]string {
			m := map[string]string{
				"page":     strconv.Itoa(q.Page),
				"pageSize": strconv.Itoa(q.PageSize),
				"query":    q.Query,
			}
			if q.CategoryID != nil {
				m["categoryId"] = strconv.FormatInt(*q.CategoryID, 10)
			}
			return m
		},
		func(catalog.PageQuery) []string { return []string{invalidation.TagProducts} },
		func(catalog.PageQuery) []string { return []string{invalidation.PathCatalog} },
	)
}

// A missing product is cached as nil so repeated lookups stay cheap; a
// later create invalidates its product tag.
func newProductByID(b baseOptions, r catalog.Reader) (*directive.Directive[productArgs, *catalog.Product], error) {
	return directiveFor(b, OpProductByID, profile.ProductDetail,
		func(ctx context.Context, a productArgs) (*catalog.Product, error) {
			p, err := r.ProductByID(ctx, a.ID)
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &p, nil
		},
		func(a productArgs) map[string]string {
			return map[string]string{"id": strconv.FormatInt(a.ID, 10), util.BustParam: a.Bust}
		},
		func(a productArgs) []string {
			return []string{invalidation.TagProductDetail, invalidation.TagProducts, invalidation.ProductTag(a.ID)}
		},
		func(a productArgs) []string { return []string{invalidation.ProductPath(a.ID)} },
	)
}

func newProductEvents(b baseOptions, r catalog.Reader) (*directive.Directive[eventArgs, []catalog.Event], error) {
	return directiveFor(b, OpProductEvents, profile.Events,
		func(ctx context.Context, a eventArgs) ([]catalog.Event, error) {
			return r.ProductEvents(ctx, a.ProductID, a.Limit)
		},
		func(a eventArgs) map[string]string {
			return map[string]string{
				"productId":    strconv.FormatInt(a.ProductID, 10),
				"limit":        strconv.Itoa(a.Limit),
				util.BustParam: a.Bust,
			}
		},
		func(a eventArgs) []string {
			return []string{invalidation.TagEvents, invalidation.ProductTag(a.ProductID)}
		},
		func(a eventArgs) []string { return []string{invalidation.ProductPath(a.ProductID)} },
	)
}

func newCategories(b baseOptions, r catalog.Reader) (*directive.Directive[struct{}, []catalog.Category], error) {
	return directiveFor(b, OpCategories, profile.Categories,
		func(ctx context.Context, _ struct{}) ([]catalog.Category, error) { return r.Categories(ctx) },
		nil,
		func(struct{}) []string { return []string{invalidation.TagCategories} },
		nil,
	)
}

// Featured returns up to limit in-stock products.
func (s *Service) Featured(ctx context.Context, limit int) (directive.Result[[]catalog.Product], error) {
	return s.featured.Execute(ctx, catalog.ClampLimit(limit, catalog.DefaultFeatured, catalog.MaxFeatured))
}

func (s *Service) ProductsPage(ctx context.Context, q catalog.PageQuery) (directive.Result[catalog.Page], error) {
	return s.productsPage.Execute(ctx, q.Normalize())
}

// ProductByID returns ErrNotFound for a missing product. A non-empty bust
// token reads under a key of its own, bypassing the shared entry.
func (s *Service) ProductByID(ctx context.Context, id int64, bust string) (directive.Result[catalog.Product], error) {
	res, err := s.productByID.Execute(ctx, productArgs{ID: id, Bust: bust})
	out := directive.Result[catalog.Product]{
		GeneratedAt: res.GeneratedAt,
		Status:      res.Status,
		Key:         res.Key,
		Profile:     res.Profile,
	}
	if err != nil {
		return out, err
	}
	if res.Value == nil {
		return out, ErrNotFound
	}
	out.Value = *res.Value
	return out, nil
}

// ProductEvents returns the newest events of a product. bust works as in
// ProductByID.
func (s *Service) ProductEvents(ctx context.Context, productID int64, limit int, bust string) (directive.Result[[]catalog.Event], error) {
	return s.productEvents.Execute(ctx, eventArgs{
		ProductID: productID,
		Limit:     catalog.ClampLimit(limit, catalog.DefaultEventLimit, catalog.MaxEventLimit),
		Bust:      bust,
	})
}

func (s *Service) Categories(ctx context.Context) (directive.Result[[]catalog.Category], error) {
	return s.categories.Execute(ctx, struct{}{})
}
