package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Postgres struct{ DB *pgxpool.Pool }

const productColumns = `id, description, unit_price::text, stock, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Description, &price, &p.Stock, &p.UpdatedAt); err != nil {
		return orders.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return orders.Product{}, fmt.Errorf("product %s price %q: %w", p.ID, price, err)
	}
	p.UnitPrice = d
	return p, nil
}

func (s *Postgres) Product(ctx context.Context, id string) (orders.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrUnknownProduct, id)
	}
	return p, err
}

func (s *Postgres) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DecrementIfAvailable locks every basket row in id order, checks the whole
// basket, and only then writes. Any shortfall rolls the transaction back.
func (s *Postgres) DecrementIfAvailable(ctx context.Context, items []orders.ItemQty) ([]orders.Shortfall, error) {
	items = merge(items)
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	rows, err := tx.Query(ctx, `SELECT id, stock FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	stock := make(map[string]int, len(ids))
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stock[id] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var short []orders.Shortfall
	for _, it := range items {
		n, ok := stock[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", orders.ErrUnknownProduct, it.ProductID)
		}
		if n-it.Qty < 0 {
			short = append(short, orders.Shortfall{ProductID: it.ProductID, Required: it.Qty, Available: n})
		}
	}
	if len(short) > 0 {
		return short, nil // rollback via defer
	}

	for _, it := range items {
		ct, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`, it.ProductID, it.Qty)
		if err != nil {
			return nil, err
		}
		if ct.RowsAffected() != 1 {
			return nil, fmt.Errorf("decrement %s: %d rows affected", it.ProductID, ct.RowsAffected())
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Postgres) Restock(ctx context.Context, items []orders.ItemQty) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		ct, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`, it.ProductID, it.Qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("%w: %s", orders.ErrUnknownProduct, it.ProductID)
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) UpsertProduct(ctx context.Context, p orders.Product) error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", orders.ErrUnknownProduct)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock %d", orders.ErrInvalidQuantity, p.Stock)
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, description, unit_price, stock)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (id) DO UPDATE
		SET description = EXCLUDED.description,
		    unit_price  = EXCLUDED.unit_price,
		    stock       = EXCLUDED.stock,
		    updated_at  = now()`,
		p.ID, p.Description, p.UnitPrice.String(), p.Stock)
	return err
}
