package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderID int64

type Product struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Stock       int             `json:"stock"` // unsold units on hand
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BasketItem is one checkout line as submitted by the customer.
type BasketItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// LineItem is the catalogue snapshot taken when the order was placed.
type LineItem struct {
	ProductID   string          `json:"product_id"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Qty         int             `json:"qty"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Qty)))
}

type Order struct {
	ID        OrderID    `json:"id"`
	State     State      `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Items     []LineItem `json:"items"`
}

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.Items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// Quantities returns the reserved quantity per product, one entry per line item.
func (o Order) Quantities() []ItemQty {
	out := make([]ItemQty, 0, len(o.Items))
	for _, li := range o.Items {
		out = append(out, ItemQty{ProductID: li.ProductID, Qty: li.Qty})
	}
	return out
}

func (o Order) Clone() Order {
	c := o
	c.Items = append([]LineItem(nil), o.Items...)
	return c
}

type Shortfall struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// GroupBasket merges duplicate products into one entry each, keeping first-seen order.
func GroupBasket(items []BasketItem) ([]ItemQty, error) {
	if len(items) == 0 {
		return nil, ErrEmptyBasket
	}
	pos := make(map[string]int, len(items))
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, ErrUnknownProduct
		}
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: product %s qty %d", ErrInvalidQuantity, it.ProductID, it.Qty)
		}
		if i, ok := pos[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		pos[it.ProductID] = len(out)
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out, nil
}
