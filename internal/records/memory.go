package records

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

type Memory struct {
	mu      sync.RWMutex
	byState map[orders.State]map[orders.OrderID][]byte
}

func NewMemory() *Memory {
	m := &Memory{byState: make(map[orders.State]map[orders.OrderID][]byte)}
	for _, s := range orders.States {
		m.byState[s] = make(map[orders.OrderID][]byte)
	}
	return m
}

func (m *Memory) Write(_ context.Context, id orders.OrderID, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byState[orders.StateOrdered][id] = append([]byte(nil), content...)
	return nil
}

func (m *Memory) Move(_ context.Context, id orders.OrderID, from, to orders.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst := m.byState[from], m.byState[to]
	if src == nil || dst == nil {
		return fmt.Errorf("move order %d: unknown location %s -> %s", id, from, to)
	}
	b, ok := src[id]
	if !ok {
		return fmt.Errorf("%w: %d at %s", ErrNotFound, id, from)
	}
	dst[id] = b
	delete(src, id)
	return nil
}

func (m *Memory) Read(_ context.Context, id orders.OrderID) (orders.State, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range orders.States {
		if b, ok := m.byState[s][id]; ok {
			return s, append([]byte(nil), b...), nil
		}
	}
	return "", nil, fmt.Errorf("%w: %d", ErrNotFound, id)
}

func (m *Memory) List(_ context.Context, state orders.State) ([]orders.OrderID, error) {
	m.mu.RLock()
	ids := make([]orders.OrderID, 0, len(m.byState[state]))
	for id := range m.byState[state] {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
