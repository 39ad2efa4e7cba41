package invalidation

import (
	"strconv"

	"github.com/VitorFirmino/cachelab/internal/util"
	"github.com/VitorFirmino/cachelab/profile"
)

// Tags shared by the storefront reads.
const (
	TagFeatured      = "featured"
	TagProducts      = "products"
	TagProductDetail = "product-detail"
	TagEvents        = "events"
	TagCategories    = "categories"
	TagPulse         = "pulse"
)

// Page paths rendered from cached reads.
const (
	PathHome    = "/"
	PathCatalog = "/products"
)

// ProductTag is the tag of everything derived from one product.
func ProductTag(id int64) string { return "product:" + strconv.FormatInt(id, 10) }

// ProductPath is the detail page of one product.
func ProductPath(id int64) string { return "/product/" + strconv.FormatInt(id, 10) }

// KnownTags are the fixed tags purged by PurgeAll.
var KnownTags = []string{TagFeatured, TagProducts, TagProductDetail, TagEvents, TagCategories, TagPulse}

// Set is a group of tags and paths invalidated together.
type Set struct {
	Tags  []string `json:"tags"`
	Paths []string `json:"paths"`
}

// Merge returns the union of s and o, normalized.
func (s Set) Merge(o Set) Set {
	return Set{
		Tags:  append(append([]string(nil), s.Tags...), o.Tags...),
		Paths: append(append([]string(nil), s.Paths...), o.Paths...),
	}.Normalize()
}

// Normalize drops empty and duplicate members and sorts both lists.
func (s Set) Normalize() Set {
	return Set{Tags: util.SortedUnique(s.Tags), Paths: util.SortedUnique(s.Paths)}
}

func (s Set) Empty() bool { return len(s.Tags) == 0 && len(s.Paths) == 0 }

// ForCreateProduct covers a new product appearing in lists.
func ForCreateProduct(id int64) Set {
	return Set{
		Tags:  []string{TagFeatured, TagProducts, ProductTag(id)},
		Paths: []string{PathHome, PathCatalog},
	}.Normalize()
}

// ForUpdateProduct covers a price or stock edit.
func ForUpdateProduct(id int64) Set {
	return Set{
		Tags:  []string{TagFeatured, TagProducts, ProductTag(id)},
		Paths: []string{PathHome, PathCatalog, ProductPath(id)},
	}.Normalize()
}

// ForDeleteProduct also drops the product's events.
func ForDeleteProduct(id int64) Set {
	return Set{
		Tags:  []string{TagFeatured, TagProducts, TagEvents, ProductTag(id)},
		Paths: []string{PathHome, PathCatalog, ProductPath(id)},
	}.Normalize()
}

// ForCreateEvent covers the events feed; productID is nil for unlinked events.
func ForCreateEvent(productID *int64) Set {
	s := Set{
		Tags:  []string{TagEvents, TagProducts, TagPulse},
		Paths: []string{PathHome, PathCatalog},
	}
	if productID != nil {
		s.Tags = append(s.Tags, ProductTag(*productID))
		s.Paths = append(s.Paths, ProductPath(*productID))
	}
	return s.Normalize()
}

// ForCheckout covers every product whose stock moved.
func ForCheckout(productIDs []int64) Set {
	s := Set{
		Tags:  []string{TagFeatured, TagProducts, TagEvents},
		Paths: []string{PathHome, PathCatalog},
	}
	for _, id := range productIDs {
		s.Tags = append(s.Tags, ProductTag(id))
		s.Paths = append(s.Paths, ProductPath(id))
	}
	return s.Normalize()
}

// ForProfileChange invalidates the results governed by the changed profile.
func ForProfileChange(id profile.ID) Set {
	return Set{Tags: []string{string(id)}, Paths: []string{PathHome, PathCatalog}}.Normalize()
}

// ForPurgeAll invalidates every known tag.
func ForPurgeAll() Set {
	return Set{Tags: KnownTags, Paths: []string{PathHome, PathCatalog}}.Normalize()
}

// ForTags invalidates caller-named tags (admin "purge by tags").
func ForTags(tags []string) Set {
	return Set{Tags: tags, Paths: []string{PathHome, PathCatalog}}.Normalize()
}
