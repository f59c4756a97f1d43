package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyBasket      = errors.New("basket is empty")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrUnknownProduct   = errors.New("unknown product")
	ErrNotInFulfillment = errors.New("order is not being fulfilled")
)

// InsufficientStockError is returned when a basket cannot be satisfied in full.
// Nothing was decremented or reserved.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Required, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

type InvalidTransitionError struct {
	OrderID OrderID
	From    State
	To      State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}

type UnknownOrderError struct {
	OrderID OrderID
}

func (e *UnknownOrderError) Error() string {
	return fmt.Sprintf("order %d not found", e.OrderID)
}

// PersistenceError wraps a failed write-through to the order record store.
type PersistenceError struct {
	Op      string
	OrderID OrderID
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist order %d (%s): %v", e.OrderID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
