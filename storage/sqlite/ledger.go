package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/checkout"
)

// InTx runs a checkout attempt in one IMMEDIATE transaction. Lock
// failures at begin, inside fn or at commit wrap checkout.ErrContention.
func (s *Store) InTx(ctx context.Context, fn func(checkout.Tx) error) error {
	var fnErr error
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		fnErr = fn(&ledgerTx{tx: tx, store: s})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return ledgerErr("checkout tx", err)
}

type ledgerTx struct {
	tx    *sql.Tx
	store *Store
}

func (t *ledgerTx) FindProduct(ctx context.Context, id int64) (checkout.ProductRef, error) {
	var p checkout.ProductRef
	err := t.tx.QueryRowContext(ctx, `SELECT id, name, price, stock FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return checkout.ProductRef{}, catalog.ErrNotFound
	}
	return p, ledgerErr("find product", err)
}

func (t *ledgerTx) DecrementIfAtLeast(ctx context.Context, id int64, amount int) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?`,
		amount, millis(t.store.now()), id, amount)
	if err != nil {
		return 0, ledgerErr("decrement stock", err)
	}
	n, err := res.RowsAffected()
	return n, ledgerErr("decrement stock", err)
}

func (t *ledgerTx) CurrentStock(ctx context.Context, id int64) (int, bool, error) {
	var stock int
	err := t.tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, id).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ledgerErr("current stock", err)
	}
	return stock, true, nil
}

func (t *ledgerTx) RecordSale(ctx context.Context, sale checkout.Sale) error {
	pid := sale.ProductID
	_, err := insertEvent(ctx, t.tx, catalog.Event{
		Type:      catalog.EventSale,
		Message:   sale.Message,
		ProductID: &pid,
		CreatedAt: t.store.now(),
	})
	return ledgerErr("record sale", err)
}
