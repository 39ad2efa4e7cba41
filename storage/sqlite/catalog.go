package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/VitorFirmino/cachelab/catalog"
)

const productColumns = `p.id, p.name, p.price, p.stock, p.category_id, c.name, p.created_at, p.updated_at`

const productFrom = ` FROM products p LEFT JOIN categories c ON c.id = p.category_id`

// Featured returns in-stock products, most recently updated first.
func (s *Store) Featured(ctx context.Context, limit int) ([]catalog.Product, error) {
	limit = catalog.ClampLimit(limit, catalog.DefaultFeatured, catalog.MaxFeatured)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+productFrom+` WHERE p.stock > 0 ORDER BY p.updated_at DESC, p.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("featured: %w", err)
	}
	return collectProducts(rows)
}

func (s *Store) ProductsPage(ctx context.Context, q catalog.PageQuery) (catalog.Page, error) {
	q = q.Normalize()
	var (
		where []string
		args  []any
	)
	if q.CategoryID != nil {
		where = append(where, "p.category_id = ?")
		args = append(args, *q.CategoryID)
	}
	if term := strings.TrimSpace(q.Query); term != "" {
		where = append(where, `p.name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	page := catalog.Page{Items: []catalog.Product{}, Page: q.Page, PageSize: q.PageSize}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+productFrom+cond, args...).Scan(&page.Total); err != nil {
		return catalog.Page{}, fmt.Errorf("products page count: %w", err)
	}
	if page.Total == 0 {
		return page, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+productFrom+cond+` ORDER BY p.id LIMIT ? OFFSET ?`,
		append(args, q.PageSize, (q.Page-1)*q.PageSize)...)
	if err != nil {
		return catalog.Page{}, fmt.Errorf("products page: %w", err)
	}
	items, err := collectProducts(rows)
	if err != nil {
		return catalog.Page{}, err
	}
	page.Items = items
	return page, nil
}

func (s *Store) ProductByID(ctx context.Context, id int64) (catalog.Product, error) {
	return productByID(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func productByID(ctx context.Context, q querier, id int64) (catalog.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+productFrom+` WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("product %d: %w", id, err)
	}
	return p, nil
}

// ProductEvents returns the newest events of a product.
func (s *Store) ProductEvents(ctx context.Context, productID int64, limit int) ([]catalog.Event, error) {
	limit = catalog.ClampLimit(limit, catalog.DefaultEventLimit, catalog.MaxEventLimit)
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, message, product_id, created_at FROM events
WHERE product_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("product events: %w", err)
	}
	defer rows.Close()

	out := []catalog.Event{}
	for rows.Next() {
		var (
			e       catalog.Event
			pid     sql.NullInt64
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Message, &pid, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ProductID = idPtr(pid)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Categories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	defer rows.Close()

	out := []catalog.Category{}
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, np catalog.NewProduct) (catalog.Product, error) {
	var out catalog.Product
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if np.CategoryID != nil {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM categories WHERE id = ?`, *np.CategoryID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("category %d: %w", *np.CategoryID, catalog.ErrNotFound)
			}
			if err != nil {
				return err
			}
		}
		now := millis(s.now())
		res, err := tx.ExecContext(ctx,
			`INSERT INTO products (name, price, stock, category_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			np.Name, np.Price, np.Stock, nullID(np.CategoryID), now, now)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		out, err = productByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return catalog.Product{}, fmt.Errorf("create product: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id int64, price float64, stock int) (catalog.Product, error) {
	var out catalog.Product
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET price = ?, stock = ?, updated_at = ? WHERE id = ?`,
			price, stock, millis(s.now()), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return catalog.ErrNotFound
		}
		out, err = productByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return catalog.Product{}, fmt.Errorf("update product %d: %w", id, err)
	}
	return out, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) (catalog.Product, error) {
	var out catalog.Product
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if out, err = productByID(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE product_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return catalog.Product{}, fmt.Errorf("delete product %d: %w", id, err)
	}
	return out, nil
}

func (s *Store) CreateEvent(ctx context.Context, ne catalog.NewEvent) (catalog.Event, error) {
	e := catalog.Event{Type: ne.Type, Message: ne.Message, ProductID: ne.ProductID, CreatedAt: s.now().UTC()}
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if ne.ProductID != nil {
			if _, err := productByID(ctx, tx, *ne.ProductID); err != nil {
				return err
			}
		}
		id, err := insertEvent(ctx, tx, e)
		e.ID = id
		return err
	})
	if err != nil {
		return catalog.Event{}, fmt.Errorf("create event: %w", err)
	}
	e.CreatedAt = fromMillis(millis(e.CreatedAt))
	return e, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e catalog.Event) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (type, message, product_id, created_at) VALUES (?, ?, ?, ?)`,
		e.Type, e.Message, nullID(e.ProductID), millis(e.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func collectProducts(rows *sql.Rows) ([]catalog.Product, error) {
	defer rows.Close()
	out := []catalog.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProduct(r rowScanner) (catalog.Product, error) {
	var (
		p                catalog.Product
		catID            sql.NullInt64
		catName          sql.NullString
		created, updated int64
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &catID, &catName, &created, &updated); err != nil {
		return catalog.Product{}, err
	}
	p.CategoryID = idPtr(catID)
	if catID.Valid && catName.Valid {
		p.Category = &catalog.Category{ID: catID.Int64, Name: catName.String}
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
