// Package catalog is the authoritative source of physical stock.
package catalog

import (
	"context"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

type Store interface {
	Product(ctx context.Context, id string) (orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)

	// DecrementIfAvailable applies every decrement in items or none of them.
	// Lines naming the same product are summed before the check. A non-empty
	// shortfall list means nothing was changed.
	DecrementIfAvailable(ctx context.Context, items []orders.ItemQty) ([]orders.Shortfall, error)

	// Restock returns units to the catalogue.
	Restock(ctx context.Context, items []orders.ItemQty) error

	UpsertProduct(ctx context.Context, p orders.Product) error
}

// merge sums quantities per product, keeping first-seen order.
func merge(items []orders.ItemQty) []orders.ItemQty {
	out := make([]orders.ItemQty, 0, len(items))
	pos := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := pos[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		pos[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}
