package hub

import (
	"sort"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

// Observer receives the live index after every change. Implementations must
// not call back into mutating Hub methods from OrderIndexChanged.
type Observer interface {
	OrderIndexChanged(s Snapshot)
}

type ObserverFunc func(Snapshot)

func (f ObserverFunc) OrderIndexChanged(s Snapshot) { f(s) }

// Change describes the mutation that produced a snapshot. Order is zero for
// the snapshot published after Initialize.
type Change struct {
	Order   orders.Order
	From    orders.State
	Removed bool
}

// Snapshot is an immutable copy of the live index. Version increases with
// every change, so observers can drop snapshots that arrive out of order.
type Snapshot struct {
	Version uint64
	Change  Change
	Orders  []orders.Order
}

func (s Snapshot) Filter(states ...orders.State) []orders.Order {
	if len(states) == 0 {
		return s.Orders
	}
	out := make([]orders.Order, 0, len(s.Orders))
	for _, o := range s.Orders {
		for _, st := range states {
			if o.State == st {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

func (s Snapshot) Counts() map[orders.State]int {
	out := make(map[orders.State]int, len(orders.States))
	for _, o := range s.Orders {
		out[o.State]++
	}
	return out
}

// Subscribe registers o and returns a func that unregisters it.
func (h *Hub) Subscribe(o Observer) (unsubscribe func()) {
	h.obsMu.Lock()
	id := h.nextObs
	h.nextObs++
	h.observers[id] = o
	h.obsMu.Unlock()

	return func() {
		h.obsMu.Lock()
		delete(h.observers, id)
		h.obsMu.Unlock()
	}
}

func (h *Hub) notify(s Snapshot) {
	h.obsMu.RLock()
	ids := make([]int, 0, len(h.observers))
	for id := range h.observers {
		ids = append(ids, id)
	}
	obs := make([]Observer, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		obs = append(obs, h.observers[id])
	}
	h.obsMu.RUnlock()

	for _, o := range obs {
		o.OrderIndexChanged(s)
	}
}
