// Package notify holds the observers that hang off the order hub.
package notify

import (
	"sync"

	"github.com/ariefcatur/go-shop-orders/internal/hub"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

// Board keeps the newest snapshot for dashboards and the pickers' task queue.
type Board struct {
	mu     sync.RWMutex
	latest hub.Snapshot
}

func NewBoard() *Board { return &Board{} }

func (b *Board) OrderIndexChanged(s hub.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.Version <= b.latest.Version {
		return
	}
	b.latest = s
}

func (b *Board) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest.Version
}

func (b *Board) Counts() map[orders.State]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest.Counts()
}

// Queue lists orders waiting for a picker, oldest first.
func (b *Board) Queue() []orders.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest.Filter(orders.StateOrdered)
}

func (b *Board) InProgress() []orders.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest.Filter(orders.StateProgressing)
}

// Recent lists orders that reached a terminal state and are still in the grace window.
func (b *Board) Recent() []orders.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest.Filter(orders.StateCollected, orders.StateCancelled)
}
