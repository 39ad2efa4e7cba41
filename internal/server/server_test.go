package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitorFirmino/cachelab/bus"
	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/invalidation"
	"github.com/VitorFirmino/cachelab/metrics"
	"github.com/VitorFirmino/cachelab/profile"
	"github.com/VitorFirmino/cachelab/provider/memory"
	"github.com/VitorFirmino/cachelab/storage/sqlite"
	"github.com/VitorFirmino/cachelab/storefront"
	"github.com/VitorFirmino/cachelab/tagstore"
)

func init() { gin.SetMode(gin.TestMode) }

type testEnv struct {
	srv *Server
	hub *bus.Hub
	reg *prometheus.Registry
}

func newEnv(t *testing.T, adminToken string) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "server.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.Seed(ctx, sqlite.BuiltinSeed(), nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	hooks := metrics.New()
	hooks.MustRegister(reg)

	tags := tagstore.NewLocal()
	inv, err := invalidation.New(invalidation.Options{TagStore: tags, Hooks: hooks})
	require.NoError(t, err)
	mgr, err := checkout.New(checkout.Options{Ledger: st, Invalidator: inv, Hooks: hooks})
	require.NoError(t, err)

	hub := bus.NewHub()
	svc, err := storefront.New(storefront.Options{
		Reader:      st,
		Writer:      st,
		Checkout:    mgr,
		Profiles:    profile.NewStore(profile.Options{Repository: st}),
		Provider:    memory.New(nil),
		TagStore:    tags,
		Invalidator: inv,
		Bus:         hub.Endpoint(),
		Hooks:       hooks,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Wait)

	srv, err := New(Options{
		Service:    svc,
		Bus:        hub.Endpoint(),
		Gatherer:   reg,
		Health:     st.Ping,
		AdminToken: adminToken,
		Heartbeat:  time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestFeaturedHeadersAndCaching(t *testing.T) {
	e := newEnv(t, "")

	w, body := e.do(t, http.MethodGet, "/api/featured", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, s-maxage=120, stale-while-revalidate=180", w.Header().Get("Cache-Control"))
	assert.Equal(t, "miss", w.Header().Get("X-Cache-Status"))
	assert.Equal(t, "featured?limit=6", w.Header().Get("X-Cache-Key"))
	assert.NotEmpty(t, body["generatedAt"])
	assert.Len(t, body["products"], 6)

	w, _ = e.do(t, http.MethodGet, "/api/featured?limit=6", nil)
	assert.Equal(t, "fresh", w.Header().Get("X-Cache-Status"))

	w, _ = e.do(t, http.MethodGet, "/api/featured?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProductsListAndDetail(t *testing.T) {
	e := newEnv(t, "")

	w, body := e.do(t, http.MethodGet, "/api/products?page=2&pageSize=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	items, isList := body["items"].([]any)
	require.True(t, isList, "items is the product list, got %T", body["items"])
	assert.Len(t, items, 5)
	first, _ := items[0].(map[string]any)
	assert.NotEmpty(t, first["name"])
	assert.EqualValues(t, 30, body["total"])
	assert.EqualValues(t, 2, body["page"])

	w, body = e.do(t, http.MethodGet, "/api/products?id=1&includeEvents=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	prod, _ := body["product"].(map[string]any)
	assert.Equal(t, "iPhone 15 Pro Max 256GB", prod["name"])
	assert.Len(t, body["events"], 1)
	assert.Equal(t, "public, s-maxage=120, stale-while-revalidate=300", w.Header().Get("Cache-Control"))

	w, body = e.do(t, http.MethodGet, "/api/products?id=999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["ok"])

	w, _ = e.do(t, http.MethodGet, "/api/products?id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = e.do(t, http.MethodGet, "/api/products/1/events?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["events"], 1)

	w, body = e.do(t, http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["categories"], 6)
}

func TestCheckoutResults(t *testing.T) {
	e := newEnv(t, "")

	w, body := e.do(t, http.MethodPost, "/api/checkout", gin.H{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, checkout.CodeEmptyCart, body["code"])
	assert.Equal(t, false, body["ok"])

	w, body = e.do(t, http.MethodPost, "/api/checkout", gin.H{"items": []gin.H{{"productId": 1, "quantity": 0}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, checkout.CodeInvalidItem, body["code"])

	w, body = e.do(t, http.MethodPost, "/api/checkout", gin.H{"items": []gin.H{{"productId": 999, "quantity": 1}}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, checkout.CodeProductNotFound, body["code"])

	// iMac has 6 in stock
	w, body = e.do(t, http.MethodPost, "/api/checkout", gin.H{"items": []gin.H{{"productId": 9, "quantity": 7}}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, checkout.CodeInsufficientStock, body["code"])
	assert.EqualValues(t, 6, body["available"])
	assert.EqualValues(t, 7, body["requested"])

	w, body = e.do(t, http.MethodPost, "/api/checkout", gin.H{"items": []gin.H{{"productId": 9, "quantity": 6}}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	order, _ := body["order"].(map[string]any)
	assert.InDelta(t, 6*14999.0, order["total"], 1e-6)

	_, body = e.do(t, http.MethodGet, "/api/products?id=9", nil)
	prod, _ := body["product"].(map[string]any)
	assert.EqualValues(t, 0, prod["stock"])

	w, _ = e.do(t, http.MethodPost, "/api/checkout", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminProductLifecycle(t *testing.T) {
	e := newEnv(t, "")

	w, body := e.do(t, http.MethodPost, "/api/admin/products", gin.H{"name": "Cabo", "stock": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidInput, body["code"])

	w, body = e.do(t, http.MethodPost, "/api/admin/products", gin.H{"name": "Cabo", "price": 19.9, "stock": 4})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 31, body["id"])

	w, _ = e.do(t, http.MethodPut, "/api/admin/products/31", gin.H{"price": 9.9, "stock": 2})
	require.Equal(t, http.StatusOK, w.Code)

	_, body = e.do(t, http.MethodGet, "/api/products?id=31", nil)
	prod, _ := body["product"].(map[string]any)
	assert.InDelta(t, 9.9, prod["price"], 1e-9)

	w, body = e.do(t, http.MethodPost, "/api/admin/events", gin.H{"type": "pulse", "message": "estoque baixo", "productId": 31})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotNil(t, body["id"])

	w, _ = e.do(t, http.MethodDelete, "/api/admin/products/31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, body = e.do(t, http.MethodDelete, "/api/admin/products/31", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, body["code"])
}

func TestAdminProfiles(t *testing.T) {
	e := newEnv(t, "")

	w, body := e.do(t, http.MethodGet, "/api/admin/cache/profiles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["profiles"], len(profile.IDs))

	w, body = e.do(t, http.MethodPut, "/api/admin/cache/profiles/nope", gin.H{"stale": 1, "revalidate": 2, "expire": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, profile.CodeUnknownProfile, body["code"])

	w, body = e.do(t, http.MethodPut, "/api/admin/cache/profiles/featured", gin.H{"stale": 5, "revalidate": 2, "expire": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, profile.CodeInvalidTTL, body["code"])

	w, body = e.do(t, http.MethodPut, "/api/admin/cache/profiles/featured", gin.H{"stale": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, profile.CodeInvalidTTL, body["code"])

	w, _ = e.do(t, http.MethodPut, "/api/admin/cache/profiles/featured", gin.H{"stale": 1, "revalidate": 2, "expire": 3})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodGet, "/api/featured", nil)
	assert.Equal(t, "public, s-maxage=1, stale-while-revalidate=2", w.Header().Get("Cache-Control"))
}

func TestAdminPurge(t *testing.T) {
	e := newEnv(t, "")

	w, body := e.do(t, http.MethodPost, "/api/admin/cache/purge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Contains(t, body["invalidated"], invalidation.TagPulse)

	w, body = e.do(t, http.MethodPost, "/api/admin/cache/purge-tags", gin.H{"tags": []string{"product:1"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["invalidated"], "product:1")

	w, _ = e.do(t, http.MethodPost, "/api/admin/cache/purge-tags", gin.H{"tags": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminToken(t *testing.T) {
	e := newEnv(t, "s3cret")

	w, body := e.do(t, http.MethodPost, "/api/admin/cache/purge", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeUnauthorized, body["code"])

	w, _ = e.do(t, http.MethodPost, "/api/admin/cache/purge", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, w.Code)

	// public reads stay open
	w, _ = e.do(t, http.MethodGet, "/api/categories", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, "")

	w, body := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	e.do(t, http.MethodGet, "/api/categories", nil)
	w, _ = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `cachelab_reads_total{operation="categories",status="miss"} 1`)
}

func TestStreamRelaysClearEvents(t *testing.T) {
	e := newEnv(t, "")
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/cache/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	next := func() (string, string) {
		var name, data string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
		return "", ""
	}

	name, _ := next()
	require.Equal(t, "ready", name)

	tab := e.hub.Endpoint()
	defer tab.Close()
	require.NoError(t, tab.Publish(ctx, bus.ClearEvent(time.UnixMilli(1700000000000))))

	name, data := next()
	require.Equal(t, "cache-clear", name)
	var ev bus.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "1700000000000", ev.Token)
	assert.Equal(t, bus.Channel, ev.Channel)
}
