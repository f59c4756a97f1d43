// Package ledger keeps per-product reservation counts for live orders.
//
// A Ledger does no locking and no availability checks. Callers serialize access
// and gate reservations on the catalogue's atomic decrement first.
package ledger

import (
	"errors"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

var ErrAlreadyReserved = errors.New("order already holds a reservation")

// Allocation is the stock split for one product at the moment it was computed.
type Allocation struct {
	ProductID string `json:"product_id"`
	Total     int    `json:"total"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

type Ledger struct {
	reserved map[string]int
	contents map[orders.OrderID][]orders.ItemQty
}

func New() *Ledger {
	return &Ledger{
		reserved: make(map[string]int),
		contents: make(map[orders.OrderID][]orders.ItemQty),
	}
}

// Reserve records items against id and adds them to the per-product totals.
func (l *Ledger) Reserve(id orders.OrderID, items []orders.ItemQty) error {
	if _, ok := l.contents[id]; ok {
		return ErrAlreadyReserved
	}
	kept := make([]orders.ItemQty, 0, len(items))
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		l.reserved[it.ProductID] += it.Qty
		kept = append(kept, it)
	}
	l.contents[id] = kept
	return nil
}

// Release reverses what Reserve recorded for id. The second call for the same
// id finds no contents and reports false.
func (l *Ledger) Release(id orders.OrderID) ([]orders.ItemQty, bool) {
	items, ok := l.contents[id]
	if !ok {
		return nil, false
	}
	for _, it := range items {
		left := l.reserved[it.ProductID] - it.Qty
		if left <= 0 {
			delete(l.reserved, it.ProductID)
			continue
		}
		l.reserved[it.ProductID] = left
	}
	delete(l.contents, id)
	return items, true
}

func (l *Ledger) ReservedFor(productID string) int {
	return l.reserved[productID]
}

// Reserved returns a copy of the product -> reserved units map.
func (l *Ledger) Reserved() map[string]int {
	out := make(map[string]int, len(l.reserved))
	for k, v := range l.reserved {
		out[k] = v
	}
	return out
}

// Len is the number of orders holding a reservation.
func (l *Ledger) Len() int { return len(l.contents) }

// Allocation derives the stock split for productID. unsold is the catalogue
// stock, which already excludes reserved units.
func (l *Ledger) Allocation(productID string, unsold int) Allocation {
	r := l.reserved[productID]
	return Allocation{
		ProductID: productID,
		Total:     unsold + r,
		Reserved:  r,
		Available: unsold,
	}
}
