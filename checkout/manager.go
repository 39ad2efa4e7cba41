// Package checkout decrements stock for a cart inside one transaction.
//
// Every line is guarded by a conditional decrement, so concurrent checkouts
// of the same product can never drive stock negative. A transient storage
// failure is retried once after a fixed backoff; after commit the affected
// tags are invalidated.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/internal/util"
	"github.com/VitorFirmino/cachelab/invalidation"
)

const (
	DefaultRetryDelay = 150 * time.Millisecond
	DefaultTxTimeout  = 5 * time.Second
)

type Item struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type Line struct {
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Total     float64 `json:"total"`
}

type OrderSummary struct {
	Items []Line  `json:"items"`
	Total float64 `json:"total"`
}

// ProductIDs lists the distinct products of the order in line order.
func (o OrderSummary) ProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(o.Items))
	out := make([]int64, 0, len(o.Items))
	for _, l := range o.Items {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		out = append(out, l.ProductID)
	}
	return out
}

type Options struct {
	Ledger      Ledger                   // required
	Invalidator invalidation.Invalidator // nil => no invalidation
	Hooks       cachelab.Hooks
	Logger      cachelab.Logger

	RetryDelay time.Duration // backoff before the single retry; 0 => 150ms
	TxTimeout  time.Duration // total window of one attempt; 0 => 5s

	// Sleep waits d or until ctx is done. nil => timer based.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Manager struct {
	ledger     Ledger
	inv        invalidation.Invalidator
	hooks      cachelab.Hooks
	log        cachelab.Logger
	retryDelay time.Duration
	txTimeout  time.Duration
	sleep      func(context.Context, time.Duration) error
}

func New(opts Options) (*Manager, error) {
	if opts.Ledger == nil {
		return nil, errors.New("checkout: ledger is required")
	}
	m := &Manager{
		ledger:     opts.Ledger,
		inv:        opts.Invalidator,
		hooks:      cachelab.HooksOr(opts.Hooks),
		log:        cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "checkout"}),
		retryDelay: util.Coalesce(opts.RetryDelay, DefaultRetryDelay),
		txTimeout:  util.Coalesce(opts.TxTimeout, DefaultTxTimeout),
		sleep:      opts.Sleep,
	}
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	return m, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Checkout buys every item or nothing. Business failures come back as
// *Error with their code; anything else is a CHECKOUT_FAILED *Error.
func (m *Manager) Checkout(ctx context.Context, items []Item) (OrderSummary, error) {
	if len(items) == 0 {
		m.hooks.CheckoutFinished(CodeEmptyCart, 0)
		return OrderSummary{}, emptyCart()
	}
	for i, it := range items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			m.hooks.CheckoutFinished(CodeInvalidItem, 0)
			return OrderSummary{}, invalidItem(i, it)
		}
	}

	attempts := 1
	sum, err := m.attempt(ctx, items)
	if err != nil && errors.Is(err, ErrContention) {
		m.log.Warn("checkout.contention_retry", cachelab.Fields{"err": err, "delay": m.retryDelay.String()})
		if serr := m.sleep(ctx, m.retryDelay); serr != nil {
			err = serr
		} else {
			attempts++
			sum, err = m.attempt(ctx, items)
		}
	}

	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Code != CodeFailed {
			m.hooks.CheckoutFinished(ce.Code, attempts)
			m.log.Info("checkout.rejected", cachelab.Fields{"code": ce.Code, "product": ce.ProductID})
			return OrderSummary{}, ce
		}
		m.hooks.CheckoutFinished(CodeFailed, attempts)
		m.log.Error("checkout.failed", cachelab.Fields{"err": err, "attempts": attempts})
		return OrderSummary{}, failed(err)
	}

	m.hooks.CheckoutFinished("ok", attempts)
	m.log.Info("checkout.ok", cachelab.Fields{"lines": len(sum.Items), "total": sum.Total, "attempts": attempts})

	if m.inv != nil {
		// committed; invalidation failures are logged by the broadcaster
		_ = m.inv.Invalidate(context.WithoutCancel(ctx), invalidation.ForCheckout(sum.ProductIDs()))
	}
	return sum, nil
}

func (m *Manager) attempt(ctx context.Context, items []Item) (OrderSummary, error) {
	tctx, cancel := context.WithTimeout(ctx, m.txTimeout)
	defer cancel()

	var sum OrderSummary
	err := m.ledger.InTx(tctx, func(tx Tx) error {
		sum = OrderSummary{Items: make([]Line, 0, len(items))}
		for _, it := range items {
			line, err := buyLine(tctx, tx, it)
			if err != nil {
				return err
			}
			sum.Items = append(sum.Items, line)
			sum.Total = roundCents(sum.Total + line.Total)
		}
		return nil
	})
	if err != nil {
		return OrderSummary{}, err
	}
	return sum, nil
}

func buyLine(ctx context.Context, tx Tx, it Item) (Line, error) {
	p, err := tx.FindProduct(ctx, it.ProductID)
	if errors.Is(err, catalog.ErrNotFound) {
		return Line{}, productNotFound(it.ProductID)
	}
	if err != nil {
		return Line{}, err
	}

	n, err := tx.DecrementIfAtLeast(ctx, it.ProductID, it.Quantity)
	if err != nil {
		return Line{}, err
	}
	if n == 0 {
		stock, found, err := tx.CurrentStock(ctx, it.ProductID)
		if err != nil {
			return Line{}, err
		}
		if !found {
			return Line{}, productNotFound(it.ProductID)
		}
		return Line{}, insufficientStock(p, stock, it.Quantity)
	}

	total := roundCents(p.Price * float64(it.Quantity))
	if err := tx.RecordSale(ctx, Sale{
		ProductID: p.ID,
		Quantity:  it.Quantity,
		Total:     total,
		Message:   fmt.Sprintf("Sale: %dx %q, total %.2f", it.Quantity, p.Name, total),
	}); err != nil {
		return Line{}, err
	}
	return Line{ProductID: p.ID, Name: p.Name, Quantity: it.Quantity, UnitPrice: p.Price, Total: total}, nil
}

func roundCents(v float64) float64 { return math.Round(v*100) / 100 }
