// Package records persists order records under a per-state location.
//
// Content is opaque to a Store; EncodeOrder and DecodeOrder define the blob
// the hub writes so it can rebuild live orders and their reservations.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

var ErrNotFound = errors.New("order record not found")

type Store interface {
	// Write stores content at the ORDERED location.
	Write(ctx context.Context, id orders.OrderID, content []byte) error
	// Move relocates the record; ErrNotFound if it is not at from.
	Move(ctx context.Context, id orders.OrderID, from, to orders.State) error
	Read(ctx context.Context, id orders.OrderID) (orders.State, []byte, error)
	// List returns the ids stored at state, ascending.
	List(ctx context.Context, state orders.State) ([]orders.OrderID, error)
}

type record struct {
	Version   int               `json:"v"`
	ID        orders.OrderID    `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Items     []orders.LineItem `json:"items"`
}

func EncodeOrder(o orders.Order) ([]byte, error) {
	return json.Marshal(record{Version: 1, ID: o.ID, CreatedAt: o.CreatedAt, Items: o.Items})
}

// DecodeOrder rebuilds an order from its record; state comes from the location.
func DecodeOrder(state orders.State, b []byte) (orders.Order, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return orders.Order{}, fmt.Errorf("decode order record: %w", err)
	}
	return orders.Order{
		ID:        r.ID,
		State:     state,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.CreatedAt,
		Items:     r.Items,
	}, nil
}
