package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/invalidation"
)

// memLedger stages writes on a copy and swaps it in on commit.
type memLedger struct {
	mu       sync.Mutex
	products map[int64]ProductRef
	sales    []Sale

	contend  int // remaining InTx calls that fail with contention
	failWith error
	calls    int
}

func newLedger(ps ...ProductRef) *memLedger {
	l := &memLedger{products: map[int64]ProductRef{}}
	for _, p := range ps {
		l.products[p.ID] = p
	}
	return l
}

func (l *memLedger) InTx(ctx context.Context, fn func(Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.contend > 0 {
		l.contend--
		return fmt.Errorf("begin: %w", ErrContention)
	}
	if l.failWith != nil {
		return l.failWith
	}
	tx := &memTx{products: map[int64]ProductRef{}}
	for k, v := range l.products {
		tx.products[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	l.products = tx.products
	l.sales = append(l.sales, tx.sales...)
	return nil
}

func (l *memLedger) stock(id int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.products[id].Stock
}

type memTx struct {
	products map[int64]ProductRef
	sales    []Sale
}

func (t *memTx) FindProduct(_ context.Context, id int64) (ProductRef, error) {
	p, ok := t.products[id]
	if !ok {
		return ProductRef{}, catalog.ErrNotFound
	}
	return p, nil
}

func (t *memTx) DecrementIfAtLeast(_ context.Context, id int64, n int) (int64, error) {
	p, ok := t.products[id]
	if !ok || p.Stock < n {
		return 0, nil
	}
	p.Stock -= n
	t.products[id] = p
	return 1, nil
}

func (t *memTx) CurrentStock(_ context.Context, id int64) (int, bool, error) {
	p, ok := t.products[id]
	return p.Stock, ok, nil
}

func (t *memTx) RecordSale(_ context.Context, s Sale) error {
	t.sales = append(t.sales, s)
	return nil
}

type recInvalidator struct {
	mu   sync.Mutex
	sets []invalidation.Set
}

func (r *recInvalidator) Invalidate(_ context.Context, s invalidation.Set) invalidation.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, s)
	return invalidation.Report{Invalidated: s.Tags}
}

type outcomeHooks struct {
	cachelab.NopHooks
	mu       sync.Mutex
	outcomes []string
	attempts []int
}

func (h *outcomeHooks) CheckoutFinished(outcome string, attempts int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, outcome)
	h.attempts = append(h.attempts, attempts)
}

func noSleep(context.Context, time.Duration) error { return nil }

func newManager(t *testing.T, l Ledger, inv invalidation.Invalidator, h cachelab.Hooks) *Manager {
	t.Helper()
	m, err := New(Options{Ledger: l, Invalidator: inv, Hooks: h, Sleep: noSleep})
	require.NoError(t, err)
	return m
}

func TestCheckoutSuccess(t *testing.T) {
	l := newLedger(
		ProductRef{ID: 1, Name: "Mouse", Price: 99.9, Stock: 5},
		ProductRef{ID: 2, Name: "Teclado", Price: 10.05, Stock: 3},
	)
	inv := &recInvalidator{}
	m := newManager(t, l, inv, nil)

	sum, err := m.Checkout(context.Background(), []Item{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 3}})
	require.NoError(t, err)
	require.Len(t, sum.Items, 2)
	assert.Equal(t, "Mouse", sum.Items[0].Name)
	assert.InDelta(t, 199.8, sum.Items[0].Total, 1e-9)
	assert.InDelta(t, 30.15, sum.Items[1].Total, 1e-9)
	assert.InDelta(t, 229.95, sum.Total, 1e-9)

	assert.Equal(t, 3, l.stock(1))
	assert.Equal(t, 0, l.stock(2))
	require.Len(t, l.sales, 2)
	assert.Contains(t, l.sales[0].Message, "Mouse")

	require.Len(t, inv.sets, 1)
	assert.Equal(t, invalidation.ForCheckout([]int64{1, 2}), inv.sets[0])
}

func TestCheckoutValidation(t *testing.T) {
	l := newLedger(ProductRef{ID: 1, Name: "Mouse", Price: 1, Stock: 5})
	m := newManager(t, l, nil, nil)

	_, err := m.Checkout(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyCart)

	for _, it := range []Item{{ProductID: 1, Quantity: 0}, {ProductID: 1, Quantity: -2}, {ProductID: 0, Quantity: 1}} {
		_, err := m.Checkout(context.Background(), []Item{it})
		assert.ErrorIs(t, err, ErrInvalidItem, "%+v", it)
	}
	assert.Equal(t, 0, l.calls, "validation failures must not open a transaction")
}

func TestCheckoutAllOrNothing(t *testing.T) {
	l := newLedger(
		ProductRef{ID: 1, Name: "Mouse", Price: 1, Stock: 5},
		ProductRef{ID: 2, Name: "Headset", Price: 1, Stock: 1},
	)
	inv := &recInvalidator{}
	m := newManager(t, l, inv, nil)

	_, err := m.Checkout(context.Background(), []Item{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 4}})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeInsufficientStock, ce.Code)
	assert.Equal(t, int64(2), ce.ProductID)
	assert.Equal(t, "Headset", ce.Name)
	assert.Equal(t, 1, ce.Available)
	assert.Equal(t, 4, ce.Requested)

	assert.Equal(t, 5, l.stock(1), "earlier line must be rolled back")
	assert.Equal(t, 1, l.stock(2))
	assert.Empty(t, l.sales)
	assert.Empty(t, inv.sets, "failed checkout must not invalidate")
}

func TestCheckoutProductNotFound(t *testing.T) {
	l := newLedger(ProductRef{ID: 1, Name: "Mouse", Price: 1, Stock: 5})
	m := newManager(t, l, nil, nil)

	_, err := m.Checkout(context.Background(), []Item{{ProductID: 1, Quantity: 1}, {ProductID: 42, Quantity: 1}})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeProductNotFound, ce.Code)
	assert.Equal(t, int64(42), ce.ProductID)
	assert.Equal(t, 5, l.stock(1))
}

func TestCheckoutRetriesOnceOnContention(t *testing.T) {
	l := newLedger(ProductRef{ID: 1, Name: "Mouse", Price: 2, Stock: 5})
	l.contend = 1
	h := &outcomeHooks{}
	var slept []time.Duration
	m, err := New(Options{
		Ledger:     l,
		Hooks:      h,
		RetryDelay: 10 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})
	require.NoError(t, err)

	sum, err := m.Checkout(context.Background(), []Item{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sum.Total, 1e-9)
	assert.Equal(t, 2, l.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, slept)
	assert.Equal(t, []string{"ok"}, h.outcomes)
	assert.Equal(t, []int{2}, h.attempts)
}

func TestCheckoutContentionTwiceFails(t *testing.T) {
	l := newLedger(ProductRef{ID: 1, Name: "Mouse", Price: 2, Stock: 5})
	l.contend = 2
	h := &outcomeHooks{}
	m := newManager(t, l, nil, h)

	_, err := m.Checkout(context.Background(), []Item{{ProductID: 1, Quantity: 1}})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeFailed, ce.Code)
	assert.ErrorIs(t, err, ErrContention, "cause is kept for logs")
	assert.Equal(t, 2, l.calls, "exactly one retry")
	assert.Equal(t, 5, l.stock(1))
	assert.Equal(t, []int{2}, h.attempts)
}

func TestCheckoutInfraErrorNotRetried(t *testing.T) {
	l := newLedger(ProductRef{ID: 1, Name: "Mouse", Price: 2, Stock: 5})
	l.failWith = errors.New("disk on fire")
	m := newManager(t, l, nil, nil)

	_, err := m.Checkout(context.Background(), []Item{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, ErrFailed)
	assert.NotContains(t, err.Error(), "disk", "infrastructure details stay out of the message")
	assert.Equal(t, 1, l.calls)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	l := newLedger(ProductRef{ID: 7, Name: "Webcam", Price: 1, Stock: 10})
	m := newManager(t, l, nil, nil)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Checkout(context.Background(), []Item{{ProductID: 7, Quantity: 1}}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, ok)
	assert.Equal(t, 0, l.stock(7))
}

func TestNewRequiresLedger(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
