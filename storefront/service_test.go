package storefront

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitorFirmino/cachelab/bus"
	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/directive"
	"github.com/VitorFirmino/cachelab/invalidation"
	"github.com/VitorFirmino/cachelab/profile"
	"github.com/VitorFirmino/cachelab/provider/memory"
	"github.com/VitorFirmino/cachelab/storage/sqlite"
	"github.com/VitorFirmino/cachelab/tagstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// countingReader counts how often each read reaches the database.
type countingReader struct {
	catalog.Reader
	featured, detail atomic.Int32
}

func (r *countingReader) Featured(ctx context.Context, limit int) ([]catalog.Product, error) {
	r.featured.Add(1)
	return r.Reader.Featured(ctx, limit)
}

func (r *countingReader) ProductByID(ctx context.Context, id int64) (catalog.Product, error) {
	r.detail.Add(1)
	return r.Reader.ProductByID(ctx, id)
}

type fixture struct {
	svc    *Service
	store  *sqlite.Store
	reader *countingReader
	clock  *clock
	hub    *bus.Hub
}

func newFixture(t *testing.T, codecName string) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "store.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.Seed(ctx, sqlite.BuiltinSeed(), nil)
	require.NoError(t, err)

	tags := tagstore.NewLocal()
	inv, err := invalidation.New(invalidation.Options{TagStore: tags})
	require.NoError(t, err)
	mgr, err := checkout.New(checkout.Options{Ledger: st, Invalidator: inv})
	require.NoError(t, err)

	hub := bus.NewHub()
	reader := &countingReader{Reader: st}
	svc, err := New(Options{
		Reader:      reader,
		Writer:      st,
		Checkout:    mgr,
		Profiles:    profile.NewStore(profile.Options{Repository: st, Now: clk.Now}),
		Provider:    memory.New(clk.Now),
		TagStore:    tags,
		Invalidator: inv,
		Bus:         hub.Endpoint(),
		Codec:       codecName,
		Now:         clk.Now,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Wait)
	return &fixture{svc: svc, store: st, reader: reader, clock: clk, hub: hub}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestFeaturedIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	first, err := f.svc.Featured(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, directive.StatusMiss, first.Status)
	assert.Len(t, first.Value, catalog.DefaultFeatured)
	assert.Equal(t, "featured?limit=6", first.Key)

	f.clock.Advance(time.Minute)
	second, err := f.svc.Featured(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, directive.StatusFresh, second.Status)
	assert.True(t, first.GeneratedAt.Equal(second.GeneratedAt))
	assert.Equal(t, int32(1), f.reader.featured.Load())
}

func TestUpdateProductInvalidatesDetail(t *testing.T) {
	for _, name := range []string{"json", "msgpack", "cbor"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, name)

			before, err := f.svc.ProductByID(ctx, 2, "")
			require.NoError(t, err)
			assert.InDelta(t, 8499.0, before.Value.Price, 1e-9)

			_, err = f.svc.UpdateProduct(ctx, 2, 7999, 30)
			require.NoError(t, err)

			after, err := f.svc.ProductByID(ctx, 2, "")
			require.NoError(t, err)
			assert.Equal(t, directive.StatusMiss, after.Status)
			assert.InDelta(t, 7999.0, after.Value.Price, 1e-9)
			assert.Equal(t, 30, after.Value.Stock)
			assert.Equal(t, int32(2), f.reader.detail.Load())
		})
	}
}

func TestProductByIDMissingAndBust(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	_, err := f.svc.ProductByID(ctx, 999, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ProductByID(ctx, 999, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), f.reader.detail.Load(), "absence is cached")

	plain, err := f.svc.ProductByID(ctx, 1, "")
	require.NoError(t, err)
	busted, err := f.svc.ProductByID(ctx, 1, "1700000000000")
	require.NoError(t, err)
	assert.NotEqual(t, plain.Key, busted.Key)
	assert.Contains(t, busted.Key, "_r=1700000000000")
	assert.Equal(t, directive.StatusMiss, busted.Status)
}

func TestProductEventsBust(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	plain, err := f.svc.ProductEvents(ctx, 1, 0, "")
	require.NoError(t, err)
	require.Len(t, plain.Value, 1)

	// written behind the service's back, so nothing is invalidated
	pid := int64(1)
	_, err = f.store.CreateEvent(ctx, catalog.NewEvent{Type: catalog.EventRestock, Message: "restocked", ProductID: &pid})
	require.NoError(t, err)

	cachedEvents, err := f.svc.ProductEvents(ctx, 1, 0, "")
	require.NoError(t, err)
	assert.Equal(t, directive.StatusFresh, cachedEvents.Status)
	assert.Len(t, cachedEvents.Value, 1)

	busted, err := f.svc.ProductEvents(ctx, 1, 0, "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, directive.StatusMiss, busted.Status)
	assert.Contains(t, busted.Key, "_r=1700000000000")
	assert.Len(t, busted.Value, 2)
}

func TestCheckoutInvalidatesReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	before, err := f.svc.ProductByID(ctx, 5, "")
	require.NoError(t, err)
	events, err := f.svc.ProductEvents(ctx, 5, 0, "")
	require.NoError(t, err)
	require.Len(t, events.Value, 1)

	sum, err := f.svc.Checkout(ctx, []checkout.Item{{ProductID: 5, Quantity: 2}})
	require.NoError(t, err)
	assert.InDelta(t, 3798.0, sum.Total, 1e-9)

	after, err := f.svc.ProductByID(ctx, 5, "")
	require.NoError(t, err)
	assert.Equal(t, before.Value.Stock-2, after.Value.Stock)

	events, err = f.svc.ProductEvents(ctx, 5, 0, "")
	require.NoError(t, err)
	require.Len(t, events.Value, 2)
	assert.Equal(t, catalog.EventSale, events.Value[0].Type)
}

func TestCheckoutFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	_, err := f.svc.ProductByID(ctx, 9, "")
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, []checkout.Item{{ProductID: 9, Quantity: 1000}})
	assert.ErrorIs(t, err, checkout.ErrInsufficientStock)

	again, err := f.svc.ProductByID(ctx, 9, "")
	require.NoError(t, err)
	assert.Equal(t, directive.StatusFresh, again.Status)
}

func TestCreateAndDeleteProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	page, err := f.svc.ProductsPage(ctx, catalog.PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 30, page.Value.Total)

	p, err := f.svc.CreateProduct(ctx, catalog.NewProduct{Name: "  Cabo USB-C  ", Price: 59.9, Stock: 10})
	require.NoError(t, err)
	assert.Equal(t, "Cabo USB-C", p.Name)

	page, err = f.svc.ProductsPage(ctx, catalog.PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 31, page.Value.Total)

	require.NoError(t, f.svc.DeleteProduct(ctx, p.ID))
	assert.ErrorIs(t, f.svc.DeleteProduct(ctx, p.ID), ErrNotFound)

	page, err = f.svc.ProductsPage(ctx, catalog.PageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 30, page.Value.Total)
}

func TestMutationValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	_, err := f.svc.CreateProduct(ctx, catalog.NewProduct{Name: " ", Price: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CreateProduct(ctx, catalog.NewProduct{Name: "x", Price: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.UpdateProduct(ctx, 1, 1, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.UpdateProduct(ctx, 999, 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.CreateEvent(ctx, catalog.NewEvent{Type: "pulse"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.PurgeByTags(ctx, []string{" ", ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateEventInvalidatesFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	_, err := f.svc.ProductEvents(ctx, 1, 0, "")
	require.NoError(t, err)
	pid := int64(1)
	f.clock.Advance(time.Second)
	_, err = f.svc.CreateEvent(ctx, catalog.NewEvent{Type: catalog.EventRestock, Message: "mais 10 unidades", ProductID: &pid})
	require.NoError(t, err)

	evs, err := f.svc.ProductEvents(ctx, 1, 0, "")
	require.NoError(t, err)
	assert.Equal(t, directive.StatusMiss, evs.Status)
	assert.Len(t, evs.Value, 2)
}

func TestUpdateCacheTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	_, err := f.svc.UpdateCacheTTL(ctx, "nope", profile.TTL{Expire: 1})
	assert.ErrorIs(t, err, &profile.Error{Code: profile.CodeUnknownProfile})

	_, err = f.svc.UpdateCacheTTL(ctx, "featured", profile.TTL{Stale: 10, Revalidate: 5, Expire: 20})
	assert.ErrorIs(t, err, &profile.Error{Code: profile.CodeInvalidTTL})

	res, err := f.svc.Featured(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "public, s-maxage=120, stale-while-revalidate=180", CacheControl(res.Profile))

	p, err := f.svc.UpdateCacheTTL(ctx, "featured", profile.TTL{Stale: 1, Revalidate: 2, Expire: 3})
	require.NoError(t, err)
	assert.Equal(t, profile.TTL{Stale: 1, Revalidate: 2, Expire: 3}, p.TTL)

	res, err = f.svc.Featured(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, directive.StatusMiss, res.Status, "profile change invalidates its results")
	assert.Equal(t, "public, s-maxage=1, stale-while-revalidate=2", CacheControl(res.Profile))

	var found bool
	for _, lp := range f.svc.Profiles(ctx) {
		if lp.ID == profile.Featured {
			found = true
			assert.Equal(t, p.TTL, lp.TTL)
		}
	}
	assert.True(t, found)
}

func TestDisabledProfileIsNoStore(t *testing.T) {
	assert.Equal(t, "no-store", CacheControl(profile.Profile{ID: profile.Events}))
}

func TestPurgeAllBroadcastsClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "json")

	tab := f.hub.Endpoint()
	var got []bus.Event
	cancel, err := tab.Subscribe(func(ev bus.Event) { got = append(got, ev) })
	require.NoError(t, err)
	defer cancel()

	_, err = f.svc.Categories(ctx)
	require.NoError(t, err)

	rep := f.svc.PurgeAll(ctx)
	assert.True(t, rep.OK())
	assert.Contains(t, rep.Invalidated, invalidation.TagCategories)
	require.Len(t, got, 1)
	assert.Equal(t, bus.Channel, got[0].Channel)

	cats, err := f.svc.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, directive.StatusMiss, cats.Status)
	assert.Len(t, cats.Value, 6)
}
