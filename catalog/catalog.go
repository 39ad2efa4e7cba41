// Package catalog holds the storefront's domain types and read queries.
package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Price      float64   `json:"price"`
	Stock      int       `json:"stock"`
	CategoryID *int64    `json:"categoryId,omitempty"`
	Category   *Category `json:"category,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	ProductID *int64    `json:"productId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event types written by the storefront itself.
const (
	EventSale        = "sale"
	EventRestock     = "restock"
	EventPriceChange = "price_change"
	EventPulse       = "pulse"
)

// PageQuery selects one page of the product list.
type PageQuery struct {
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	CategoryID *int64 `json:"categoryId,omitempty"`
	Query      string `json:"query,omitempty"`
}

const (
	DefaultPageSize   = 10
	MaxPageSize       = 100
	MaxPage           = 10000
	DefaultFeatured   = 6
	MaxFeatured       = 20
	DefaultEventLimit = 5
	MaxEventLimit     = 50
)

// Normalize clamps page into [1, MaxPage] and pageSize into [1, MaxPageSize].
// Zero values take the defaults.
func (q PageQuery) Normalize() PageQuery {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

type Page struct {
	Items    []Product `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
}

// ClampLimit bounds limit into [1, max], with def for non-positive input.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// NewProduct is the input of a product creation.
type NewProduct struct {
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Stock      int     `json:"stock"`
	CategoryID *int64  `json:"categoryId,omitempty"`
}

// NewEvent is the input of an event creation.
type NewEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ProductID *int64 `json:"productId,omitempty"`
}

// Reader is the read side the storefront caches.
type Reader interface {
	Featured(ctx context.Context, limit int) ([]Product, error)
	ProductsPage(ctx context.Context, q PageQuery) (Page, error)
	ProductByID(ctx context.Context, id int64) (Product, error)
	ProductEvents(ctx context.Context, productID int64, limit int) ([]Event, error)
	Categories(ctx context.Context) ([]Category, error)
}

// Writer is the admin write side.
type Writer interface {
	CreateProduct(ctx context.Context, p NewProduct) (Product, error)
	UpdateProduct(ctx context.Context, id int64, price float64, stock int) (Product, error)
	// DeleteProduct removes the product's events first, then the product,
	// in one transaction.
	DeleteProduct(ctx context.Context, id int64) (Product, error)
	CreateEvent(ctx context.Context, e NewEvent) (Event, error)
}
