// Package hub owns the live order index, the reservation ledger and the
// order state machine. One Hub is built per process and shared by every
// actor (checkout, warehouse, pickers).
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/catalog"
	"github.com/ariefcatur/go-shop-orders/internal/cleanup"
	"github.com/ariefcatur/go-shop-orders/internal/ledger"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/records"
	"go.uber.org/zap"
)

// DefaultGracePeriod is how long a terminal order stays in the live index.
const DefaultGracePeriod = 10 * time.Second

type Hub struct {
	mu      sync.Mutex
	catalog catalog.Store
	records records.Store
	ledger  *ledger.Ledger
	index   map[orders.OrderID]*orders.Order
	nextID  orders.OrderID
	version uint64

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	cleanup *cleanup.Scheduler
	grace   time.Duration
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option { return func(h *Hub) { h.log = l } }

func WithMetrics(m *Metrics) Option { return func(h *Hub) { h.metrics = m } }

func WithGracePeriod(d time.Duration) Option { return func(h *Hub) { h.grace = d } }

func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

func New(cat catalog.Store, rec records.Store, opts ...Option) *Hub {
	h := &Hub{
		catalog:   cat,
		records:   rec,
		ledger:    ledger.New(),
		index:     make(map[orders.OrderID]*orders.Order),
		nextID:    1,
		observers: make(map[int]Observer),
		cleanup:   cleanup.NewScheduler(),
		grace:     DefaultGracePeriod,
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Initialize rebuilds the live index and the ledger from persisted records.
// Terminal records only advance the id sequence.
func (h *Hub) Initialize(ctx context.Context) error {
	snap, err := h.initializeLocked(ctx)
	if err != nil {
		return err
	}
	h.notify(snap)
	return nil
}

func (h *Hub) initializeLocked(ctx context.Context) (Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	index := make(map[orders.OrderID]*orders.Order)
	led := ledger.New()
	var maxID orders.OrderID

	for _, st := range orders.States {
		ids, err := h.records.List(ctx, st)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list %s records: %w", st, err)
		}
		for _, id := range ids {
			if id > maxID {
				maxID = id
			}
			if !st.Active() {
				continue
			}
			if _, dup := index[id]; dup {
				h.log.Warn("order record found in two locations", zap.Int64("order_id", int64(id)), zap.String("state", string(st)))
				continue
			}
			state, b, err := h.records.Read(ctx, id)
			if err != nil {
				return Snapshot{}, fmt.Errorf("read order %d: %w", id, err)
			}
			o, err := records.DecodeOrder(state, b)
			if err != nil {
				return Snapshot{}, fmt.Errorf("order %d: %w", id, err)
			}
			if err := led.Reserve(o.ID, o.Quantities()); err != nil {
				return Snapshot{}, fmt.Errorf("replay reservation for order %d: %w", id, err)
			}
			index[o.ID] = &o
		}
	}

	h.index = index
	h.ledger = led
	if h.nextID <= maxID {
		h.nextID = maxID + 1
	}
	h.metrics.observeReserved(sortedKeys(led.Reserved()), led.ReservedFor)
	h.log.Info("order index rebuilt",
		zap.Int("live_orders", len(index)),
		zap.Int("reservations", led.Len()),
		zap.Int64("next_id", int64(h.nextID)),
	)
	return h.snapshotLocked(Change{}), nil
}

// CreateOrder takes the whole basket or nothing. On return every observer has
// seen the new order.
func (h *Hub) CreateOrder(ctx context.Context, basket []orders.BasketItem) (orders.Order, error) {
	items, err := orders.GroupBasket(basket)
	if err != nil {
		h.metrics.rejected("invalid_basket")
		return orders.Order{}, err
	}
	o, snap, err := h.createLocked(ctx, items)
	if err != nil {
		h.log.Info("checkout rejected", zap.Error(err))
		return orders.Order{}, err
	}
	h.notify(snap)
	h.log.Info("order created",
		zap.Int64("order_id", int64(o.ID)),
		zap.Int("lines", len(o.Items)),
		zap.String("total", o.Total().StringFixed(2)),
	)
	return o, nil
}

func (h *Hub) createLocked(ctx context.Context, items []orders.ItemQty) (orders.Order, Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lines := make([]orders.LineItem, 0, len(items))
	for _, it := range items {
		p, err := h.catalog.Product(ctx, it.ProductID)
		if err != nil {
			h.metrics.rejected("unknown_product")
			return orders.Order{}, Snapshot{}, err
		}
		lines = append(lines, orders.LineItem{
			ProductID:   p.ID,
			Description: p.Description,
			UnitPrice:   p.UnitPrice,
			Qty:         it.Qty,
		})
	}

	short, err := h.catalog.DecrementIfAvailable(ctx, items)
	if err != nil {
		return orders.Order{}, Snapshot{}, fmt.Errorf("decrement stock: %w", err)
	}
	if len(short) > 0 {
		h.metrics.rejected("insufficient_stock")
		return orders.Order{}, Snapshot{}, &orders.InsufficientStockError{Shortfalls: short}
	}

	// ids are burned on failure so a half-written record can never be reused
	id := h.nextID
	h.nextID++
	now := h.now()
	o := orders.Order{ID: id, State: orders.StateOrdered, CreatedAt: now, UpdatedAt: now, Items: lines}

	if err := h.writeRecord(ctx, o); err != nil {
		if rerr := h.catalog.Restock(ctx, items); rerr != nil {
			h.log.Error("restock after failed order write", zap.Int64("order_id", int64(id)), zap.Error(rerr))
		}
		h.metrics.rejected("persistence")
		return orders.Order{}, Snapshot{}, &orders.PersistenceError{Op: "write", OrderID: id, Err: err}
	}

	if err := h.ledger.Reserve(id, items); err != nil {
		return orders.Order{}, Snapshot{}, fmt.Errorf("reserve order %d: %w", id, err)
	}
	h.index[id] = &o
	h.metrics.created()
	h.metrics.observeReserved(productIDs(items), h.ledger.ReservedFor)

	return o.Clone(), h.snapshotLocked(Change{Order: o.Clone()}), nil
}

func (h *Hub) writeRecord(ctx context.Context, o orders.Order) error {
	b, err := records.EncodeOrder(o)
	if err != nil {
		return err
	}
	return h.records.Write(ctx, o.ID, b)
}

// Advance moves an order one step along ORDERED -> PROGRESSING -> COLLECTED.
func (h *Hub) Advance(ctx context.Context, id orders.OrderID, target orders.State) (orders.Order, error) {
	o, snap, err := h.advanceLocked(ctx, id, target)
	if err != nil {
		h.log.Warn("advance rejected", zap.Int64("order_id", int64(id)), zap.String("to", string(target)), zap.Error(err))
		return orders.Order{}, err
	}
	h.notify(snap)
	h.log.Info("order advanced",
		zap.Int64("order_id", int64(id)),
		zap.String("from", string(snap.Change.From)),
		zap.String("to", string(o.State)),
	)
	return o, nil
}

func (h *Hub) advanceLocked(ctx context.Context, id orders.OrderID, target orders.State) (orders.Order, Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur, ok := h.index[id]
	if !ok {
		return orders.Order{}, Snapshot{}, &orders.UnknownOrderError{OrderID: id}
	}
	next, ok := cur.State.Next()
	if !ok || next != target {
		return orders.Order{}, Snapshot{}, &orders.InvalidTransitionError{OrderID: id, From: cur.State, To: target}
	}
	return h.transitionLocked(ctx, cur, target)
}

// Cancel ends an order that no picker has claimed yet and returns its units
// to the catalogue.
func (h *Hub) Cancel(ctx context.Context, id orders.OrderID) (orders.Order, error) {
	o, snap, err := h.cancelLocked(ctx, id)
	if err != nil {
		h.log.Warn("cancel rejected", zap.Int64("order_id", int64(id)), zap.Error(err))
		return orders.Order{}, err
	}
	h.notify(snap)
	h.log.Info("order cancelled", zap.Int64("order_id", int64(id)))
	return o, nil
}

func (h *Hub) cancelLocked(ctx context.Context, id orders.OrderID) (orders.Order, Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur, ok := h.index[id]
	if !ok {
		return orders.Order{}, Snapshot{}, &orders.UnknownOrderError{OrderID: id}
	}
	if !orders.CanTransition(cur.State, orders.StateCancelled) {
		return orders.Order{}, Snapshot{}, &orders.InvalidTransitionError{OrderID: id, From: cur.State, To: orders.StateCancelled}
	}
	return h.transitionLocked(ctx, cur, orders.StateCancelled)
}

// transitionLocked persists first; the in-memory state only changes after
// the record has moved.
func (h *Hub) transitionLocked(ctx context.Context, cur *orders.Order, to orders.State) (orders.Order, Snapshot, error) {
	from := cur.State
	if err := h.records.Move(ctx, cur.ID, from, to); err != nil {
		return orders.Order{}, Snapshot{}, &orders.PersistenceError{Op: "move", OrderID: cur.ID, Err: err}
	}
	cur.State = to
	cur.UpdatedAt = h.now()
	h.metrics.transition(to)

	if to.Terminal() {
		items, released := h.ledger.Release(cur.ID)
		if released && to == orders.StateCancelled {
			if err := h.catalog.Restock(ctx, items); err != nil {
				h.log.Error("restock cancelled order", zap.Int64("order_id", int64(cur.ID)), zap.Error(err))
			}
		}
		h.metrics.observeReserved(productIDs(items), h.ledger.ReservedFor)

		id := cur.ID
		h.cleanup.Schedule(id, h.grace, func() { h.remove(id) })
	}

	c := cur.Clone()
	return c, h.snapshotLocked(Change{Order: c, From: from}), nil
}

// remove drops a terminal order from the live index once its grace period ends.
func (h *Hub) remove(id orders.OrderID) {
	h.mu.Lock()
	o, ok := h.index[id]
	if !ok || !o.State.Terminal() {
		h.mu.Unlock()
		return
	}
	delete(h.index, id)
	snap := h.snapshotLocked(Change{Order: o.Clone(), From: o.State, Removed: true})
	h.mu.Unlock()

	h.notify(snap)
	h.log.Debug("order removed from live index", zap.Int64("order_id", int64(id)))
}

func (h *Hub) Order(id orders.OrderID) (orders.Order, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.index[id]
	if !ok {
		return orders.Order{}, &orders.UnknownOrderError{OrderID: id}
	}
	return o.Clone(), nil
}

// Lookup serves live orders from the index and older ones from their record.
func (h *Hub) Lookup(ctx context.Context, id orders.OrderID) (orders.Order, error) {
	if o, err := h.Order(id); err == nil {
		return o, nil
	}
	state, b, err := h.records.Read(ctx, id)
	if errors.Is(err, records.ErrNotFound) {
		return orders.Order{}, &orders.UnknownOrderError{OrderID: id}
	}
	if err != nil {
		return orders.Order{}, &orders.PersistenceError{Op: "read", OrderID: id, Err: err}
	}
	return records.DecodeOrder(state, b)
}

// Orders returns live orders in id order, optionally limited to states.
func (h *Hub) Orders(states ...orders.State) []orders.Order {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{Orders: h.ordersLocked()}.Filter(states...)
}

// FulfillmentDetail exposes line items only to the picker working the order.
func (h *Hub) FulfillmentDetail(id orders.OrderID) (orders.Order, error) {
	o, err := h.Order(id)
	if err != nil {
		return orders.Order{}, err
	}
	if o.State != orders.StateProgressing {
		return orders.Order{}, fmt.Errorf("order %d is %s: %w", id, o.State, orders.ErrNotInFulfillment)
	}
	return o, nil
}

func (h *Hub) ReservedFor(productID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ledger.ReservedFor(productID)
}

// Allocation reads catalogue stock and the ledger under the same lock, so the
// split never mixes a checkout's decrement with a missing reservation.
func (h *Hub) Allocation(ctx context.Context, productID string) (ledger.Allocation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.catalog.Product(ctx, productID)
	if err != nil {
		return ledger.Allocation{}, err
	}
	return h.ledger.Allocation(productID, p.Stock), nil
}

// Snapshot returns the current live index without counting as a change.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{Version: h.version, Orders: h.ordersLocked()}
}

// Close drops pending removals. Orders already terminal stay in the index.
func (h *Hub) Close() {
	if n := h.cleanup.Pending(); n > 0 {
		h.log.Info("dropping pending removals", zap.Int("orders", n))
	}
	h.cleanup.Stop()
}

func (h *Hub) snapshotLocked(c Change) Snapshot {
	h.version++
	s := Snapshot{Version: h.version, Change: c, Orders: h.ordersLocked()}
	h.metrics.observeIndex(s)
	return s
}

func (h *Hub) ordersLocked() []orders.Order {
	out := make([]orders.Order, 0, len(h.index))
	for _, o := range h.index {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func productIDs(items []orders.ItemQty) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ProductID)
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
