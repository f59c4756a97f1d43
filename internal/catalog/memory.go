package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

// Memory is an in-process Store guarded by a single mutex.
type Memory struct {
	mu       sync.Mutex
	products map[string]orders.Product
	now      func() time.Time
}

func NewMemory(products ...orders.Product) *Memory {
	m := &Memory{products: make(map[string]orders.Product, len(products)), now: time.Now}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *Memory) Product(_ context.Context, id string) (orders.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrUnknownProduct, id)
	}
	return p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]orders.Product, error) {
	m.mu.Lock()
	out := make([]orders.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DecrementIfAvailable(_ context.Context, items []orders.ItemQty) ([]orders.Shortfall, error) {
	items = merge(items)
	m.mu.Lock()
	defer m.mu.Unlock()

	var short []orders.Shortfall
	for _, it := range items {
		p, ok := m.products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", orders.ErrUnknownProduct, it.ProductID)
		}
		if p.Stock-it.Qty < 0 {
			short = append(short, orders.Shortfall{ProductID: it.ProductID, Required: it.Qty, Available: p.Stock})
		}
	}
	if len(short) > 0 {
		return short, nil
	}

	now := m.now()
	for _, it := range items {
		p := m.products[it.ProductID]
		p.Stock -= it.Qty
		p.UpdatedAt = now
		m.products[it.ProductID] = p
	}
	return nil, nil
}

func (m *Memory) Restock(_ context.Context, items []orders.ItemQty) error {
	items = merge(items)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		if _, ok := m.products[it.ProductID]; !ok {
			return fmt.Errorf("%w: %s", orders.ErrUnknownProduct, it.ProductID)
		}
	}
	now := m.now()
	for _, it := range items {
		p := m.products[it.ProductID]
		p.Stock += it.Qty
		p.UpdatedAt = now
		m.products[it.ProductID] = p
	}
	return nil
}

func (m *Memory) UpsertProduct(_ context.Context, p orders.Product) error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", orders.ErrUnknownProduct)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock %d", orders.ErrInvalidQuantity, p.Stock)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.now()
	m.products[p.ID] = p
	return nil
}
