package checkout

import (
	"context"
	"errors"
)

// ErrContention marks a transient storage failure: the lock wait window
// elapsed or the database reported itself busy. Ledgers wrap it so the
// manager can retry.
var ErrContention = errors.New("checkout: storage contention")

// ProductRef is the product as seen inside a checkout transaction.
type ProductRef struct {
	ID    int64
	Name  string
	Price float64
	Stock int
}

// Sale is the ledger record of one checkout line.
type Sale struct {
	ProductID int64
	Quantity  int
	Total     float64
	Message   string
}

// Tx is the set of primitives a checkout runs inside one storage transaction.
type Tx interface {
	// FindProduct returns catalog.ErrNotFound when the product does not exist.
	FindProduct(ctx context.Context, id int64) (ProductRef, error)
	// DecrementIfAtLeast subtracts amount from the product's stock only when
	// stock >= amount, and reports how many rows changed (0 or 1).
	DecrementIfAtLeast(ctx context.Context, id int64, amount int) (int64, error)
	// CurrentStock re-reads stock after a failed decrement. found is false
	// when the product vanished.
	CurrentStock(ctx context.Context, id int64) (stock int, found bool, err error)
	RecordSale(ctx context.Context, s Sale) error
}

// Ledger runs fn in one all-or-nothing transaction: it commits when fn
// returns nil and rolls back otherwise, returning fn's error unchanged.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
