// Package client is a Go consumer of the storefront HTTP API. Reads go
// through a mirror.Mirror, so repeated reads inside one process are served
// locally until the mirror is cleared by a checkout, a peer on the bus, or
// its TTL.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/internal/util"
	"github.com/VitorFirmino/cachelab/mirror"
)

const defaultTTL = 30 * time.Second

// APIError is a {"ok": false, ...} answer.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	ProductID int64  `json:"productId,omitempty"`
	Name      string `json:"name,omitempty"`
	Available int    `json:"available,omitempty"`
	Requested int    `json:"requested,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is matches checkout sentinels by code, so errors.Is(err,
// checkout.ErrInsufficientStock) works across the wire.
func (e *APIError) Is(target error) bool {
	var ce *checkout.Error
	if errors.As(target, &ce) {
		return ce.Code == e.Code
	}
	return false
}

type Options struct {
	BaseURL string       // required, e.g. http://localhost:8080
	HTTP    *http.Client // nil => 10s timeout client
	// Mirror caches reads. nil => a private mirror without a bus.
	Mirror *mirror.Mirror
	TTL    time.Duration // mirror entry lifetime; 0 => 30s
	Logger cachelab.Logger
	Now    func() time.Time
}

type Client struct {
	base   *url.URL
	http   *http.Client
	mirror *mirror.Mirror
	ttl    time.Duration
	log    cachelab.Logger
	now    func() time.Time

	mu   sync.Mutex
	bust string
	last mirror.FetchInfo
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", opts.BaseURL)
	}
	c := &Client{
		base:   base,
		http:   opts.HTTP,
		mirror: opts.Mirror,
		ttl:    util.Coalesce(opts.TTL, defaultTTL),
		log:    cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "client"}),
		now:    opts.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	if c.mirror == nil {
		c.mirror = mirror.New(mirror.Options{Logger: opts.Logger})
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Mirror exposes the read cache, e.g. to subscribe to its version.
func (c *Client) Mirror() *mirror.Mirror { return c.mirror }

// LastFetch describes the most recent read.
func (c *Client) LastFetch() mirror.FetchInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Client) bustToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bust
}

func fetch[T any](ctx context.Context, c *Client, key string, remote func(context.Context) (T, error)) (T, error) {
	v, info, err := mirror.Fetch(ctx, c.mirror, key, c.ttl, remote)
	c.mu.Lock()
	c.last = info
	c.mu.Unlock()
	c.log.Debug("client.fetch", cachelab.Fields{"key": info.Key, "hit": info.Hit, "took": info.Duration})
	return v, err
}

func (c *Client) Featured(ctx context.Context, limit int) ([]catalog.Product, error) {
	params := map[string]string{}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	return fetch(ctx, c, mirror.Key("featured", params), func(ctx context.Context) ([]catalog.Product, error) {
		var body struct {
			Products []catalog.Product `json:"products"`
		}
		err := c.do(ctx, http.MethodGet, "/api/featured", params, nil, &body)
		return body.Products, err
	})
}

func (c *Client) Products(ctx context.Context, q catalog.PageQuery) (catalog.Page, error) {
	params := map[string]string{}
	if q.Page > 0 {
		params["page"] = strconv.Itoa(q.Page)
	}
	if q.PageSize > 0 {
		params["pageSize"] = strconv.Itoa(q.PageSize)
	}
	if q.CategoryID != nil {
		params["categoryId"] = strconv.FormatInt(*q.CategoryID, 10)
	}
	if s := strings.TrimSpace(q.Query); s != "" {
		params["query"] = s
	}
	return fetch(ctx, c, mirror.Key("products", params), func(ctx context.Context) (catalog.Page, error) {
		var p catalog.Page
		err := c.do(ctx, http.MethodGet, "/api/products", params, nil, &p)
		return p, err
	})
}

// Product reads one product. After a checkout the read carries the bust
// token, so neither the mirror nor the server answers from a pre-checkout
// entry.
func (c *Client) Product(ctx context.Context, id int64) (catalog.Product, error) {
	params := map[string]string{"id": strconv.FormatInt(id, 10)}
	key := mirror.Key("product", params)
	if tok := c.bustToken(); tok != "" {
		key = mirror.WithBust(key, tok)
		params[util.BustParam] = tok
	}
	return fetch(ctx, c, key, func(ctx context.Context) (catalog.Product, error) {
		var body struct {
			Product catalog.Product `json:"product"`
		}
		err := c.do(ctx, http.MethodGet, "/api/products", params, nil, &body)
		return body.Product, err
	})
}

func (c *Client) ProductEvents(ctx context.Context, productID int64, limit int) ([]catalog.Event, error) {
	params := map[string]string{}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	key := mirror.Key("product-events", map[string]string{"id": strconv.FormatInt(productID, 10), "limit": params["limit"]})
	path := "/api/products/" + strconv.FormatInt(productID, 10) + "/events"
	return fetch(ctx, c, key, func(ctx context.Context) ([]catalog.Event, error) {
		var body struct {
			Events []catalog.Event `json:"events"`
		}
		err := c.do(ctx, http.MethodGet, path, params, nil, &body)
		return body.Events, err
	})
}

func (c *Client) Categories(ctx context.Context) ([]catalog.Category, error) {
	return fetch(ctx, c, mirror.Key("categories", nil), func(ctx context.Context) ([]catalog.Category, error) {
		var body struct {
			Categories []catalog.Category `json:"categories"`
		}
		err := c.do(ctx, http.MethodGet, "/api/categories", nil, nil, &body)
		return body.Categories, err
	})
}

// Checkout places an order. On success the mirror is cleared, which also
// tells every other context on its bus, and later product reads are busted.
func (c *Client) Checkout(ctx context.Context, items []checkout.Item) (checkout.OrderSummary, error) {
	var body struct {
		Order checkout.OrderSummary `json:"order"`
	}
	req := struct {
		Items []checkout.Item `json:"items"`
	}{Items: items}
	if err := c.do(ctx, http.MethodPost, "/api/checkout", nil, req, &body); err != nil {
		return checkout.OrderSummary{}, err
	}
	c.mu.Lock()
	c.bust = strconv.FormatInt(c.now().UnixMilli(), 10)
	c.mu.Unlock()
	c.mirror.Clear()
	return body.Order, nil
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, in, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			if v != "" {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var rd io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("client: read %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(raw, apiErr); jerr != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}
