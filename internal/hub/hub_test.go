package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/catalog"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/records"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// flakyRecords fails writes or moves on demand.
type flakyRecords struct {
	*records.Memory
	mu        sync.Mutex
	failWrite bool
	failMove  bool
}

var errDisk = errors.New("disk full")

func (f *flakyRecords) Write(ctx context.Context, id orders.OrderID, b []byte) error {
	f.mu.Lock()
	fail := f.failWrite
	f.mu.Unlock()
	if fail {
		return errDisk
	}
	return f.Memory.Write(ctx, id, b)
}

func (f *flakyRecords) Move(ctx context.Context, id orders.OrderID, from, to orders.State) error {
	f.mu.Lock()
	fail := f.failMove
	f.mu.Unlock()
	if fail {
		return errDisk
	}
	return f.Memory.Move(ctx, id, from, to)
}

func product(id string, stock int) orders.Product {
	return orders.Product{ID: id, Description: "product " + id, UnitPrice: decimal.RequireFromString("1.25"), Stock: stock}
}

func newHub(t *testing.T, grace time.Duration, products ...orders.Product) (*Hub, *catalog.Memory, *flakyRecords) {
	t.Helper()
	cat := catalog.NewMemory(products...)
	rec := &flakyRecords{Memory: records.NewMemory()}
	h := New(cat, rec, WithGracePeriod(grace))
	t.Cleanup(h.Close)
	return h, cat, rec
}

func basket(pairs ...any) []orders.BasketItem {
	out := make([]orders.BasketItem, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, orders.BasketItem{ProductID: pairs[i].(string), Qty: pairs[i+1].(int)})
	}
	return out
}

func stockOf(t *testing.T, cat catalog.Store, id string) int {
	t.Helper()
	p, err := cat.Product(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

// assertLedgerMatchesOrders checks that every product's reservation equals the
// sum of quantities over live ORDERED/PROGRESSING orders.
func assertLedgerMatchesOrders(t *testing.T, h *Hub, productIDs ...string) {
	t.Helper()
	want := map[string]int{}
	for _, o := range h.Orders(orders.StateOrdered, orders.StateProgressing) {
		for _, li := range o.Items {
			want[li.ProductID] += li.Qty
		}
	}
	for _, p := range productIDs {
		assert.Equal(t, want[p], h.ReservedFor(p), "reserved units for %s", p)
	}
}

func TestEndToEndFulfillment(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHub(t, 50*time.Millisecond, product("0009", 10))

	o, err := h.CreateOrder(ctx, basket("0009", 4))
	require.NoError(t, err)
	assert.Equal(t, orders.StateOrdered, o.State)
	assert.Equal(t, 4, h.ReservedFor("0009"))

	a, err := h.Allocation(ctx, "0009")
	require.NoError(t, err)
	assert.Equal(t, 10, a.Total)
	assert.Equal(t, 4, a.Reserved)
	assert.Equal(t, 6, a.Available)

	_, err = h.Advance(ctx, o.ID, orders.StateProgressing)
	require.NoError(t, err)
	assert.Equal(t, 4, h.ReservedFor("0009"))

	done, err := h.Advance(ctx, o.ID, orders.StateCollected)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCollected, done.State)
	assert.Equal(t, 0, h.ReservedFor("0009"))

	a, err = h.Allocation(ctx, "0009")
	require.NoError(t, err)
	assert.Equal(t, 6, a.Total)
	assert.Equal(t, 6, a.Available)

	// still visible during the grace period
	got, err := h.Order(o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCollected, got.State)

	assert.Eventually(t, func() bool {
		_, err := h.Order(o.ID)
		var unknown *orders.UnknownOrderError
		return errors.As(err, &unknown)
	}, time.Second, 5*time.Millisecond)

	// the record outlives the live index
	persisted, err := h.Lookup(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCollected, persisted.State)
	assert.Equal(t, 4, persisted.Items[0].Qty)
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	h, cat, rec := newHub(t, time.Minute, product("A", 10), product("B", 2))

	_, err := h.CreateOrder(ctx, basket("A", 5, "B", 3))
	var short *orders.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, []orders.Shortfall{{ProductID: "B", Required: 3, Available: 2}}, short.Shortfalls)

	assert.Equal(t, 10, stockOf(t, cat, "A"))
	assert.Equal(t, 2, stockOf(t, cat, "B"))
	assert.Equal(t, 0, h.ReservedFor("A"))
	assert.Empty(t, h.Orders())

	ids, err := rec.List(ctx, orders.StateOrdered)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDuplicateBasketLinesAreChecked(t *testing.T) {
	ctx := context.Background()
	h, cat, _ := newHub(t, time.Minute, product("A", 5))

	_, err := h.CreateOrder(ctx, basket("A", 3, "A", 3))
	var short *orders.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 6, short.Shortfalls[0].Required)
	assert.Equal(t, 5, stockOf(t, cat, "A"))
}

func TestInvalidBasket(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHub(t, time.Minute, product("A", 5))

	_, err := h.CreateOrder(ctx, nil)
	assert.ErrorIs(t, err, orders.ErrEmptyBasket)
	_, err = h.CreateOrder(ctx, basket("A", -1))
	assert.ErrorIs(t, err, orders.ErrInvalidQuantity)
	_, err = h.CreateOrder(ctx, basket("nope", 1))
	assert.ErrorIs(t, err, orders.ErrUnknownProduct)
}

func TestAdvanceRejectsAnythingButTheNextState(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHub(t, time.Minute, product("A", 10))
	o, err := h.CreateOrder(ctx, basket("A", 1))
	require.NoError(t, err)

	for _, target := range []orders.State{orders.StateCollected, orders.StateOrdered, orders.StateCancelled} {
		_, err = h.Advance(ctx, o.ID, target)
		var invalid *orders.InvalidTransitionError
		require.ErrorAs(t, err, &invalid, "target %s", target)
		assert.Equal(t, orders.StateOrdered, invalid.From)
		assert.Equal(t, target, invalid.To)
	}

	got, err := h.Order(o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateOrdered, got.State)
	assert.Equal(t, 1, h.ReservedFor("A"))

	_, err = h.Advance(ctx, o.ID, orders.StateProgressing)
	require.NoError(t, err)
	_, err = h.Advance(ctx, o.ID, orders.StateOrdered)
	var invalid *orders.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestUnknownOrder(t *testing.T) {
	h, _, _ := newHub(t, time.Minute, product("A", 10))
	var unknown *orders.UnknownOrderError

	_, err := h.Advance(context.Background(), 42, orders.StateProgressing)
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, orders.OrderID(42), unknown.OrderID)

	_, err = h.Cancel(context.Background(), 42)
	assert.ErrorAs(t, err, &unknown)
	_, err = h.Lookup(context.Background(), 42)
	assert.ErrorAs(t, err, &unknown)
}

func TestConcurrentCheckoutsGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	h, cat, _ := newHub(t, time.Minute, product("A", 100), product("B", 100))

	const n = 40
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[orders.OrderID]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := h.CreateOrder(ctx, basket("A", 2, "B", 1))
			if !assert.NoError(t, err) {
				return
			}
			// the reservation is in the ledger before CreateOrder returns
			assert.GreaterOrEqual(t, h.ReservedFor("A"), 2)
			mu.Lock()
			ids[o.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n)
	assert.Equal(t, 2*n, h.ReservedFor("A"))
	assert.Equal(t, n, h.ReservedFor("B"))
	assert.Equal(t, 100-2*n, stockOf(t, cat, "A"))
	assertLedgerMatchesOrders(t, h, "A", "B")
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	ctx := context.Background()
	h, cat, _ := newHub(t, time.Minute, product("A", 7))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.CreateOrder(ctx, basket("A", 2))
		}()
	}
	wg.Wait()

	a, err := h.Allocation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 6, a.Reserved)
	assert.Equal(t, 1, a.Available)
	assert.Equal(t, 7, a.Total)
	assert.Equal(t, 1, stockOf(t, cat, "A"))
	assert.Len(t, h.Orders(), 3)
}

func TestWriteFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h, cat, rec := newHub(t, time.Minute, product("A", 10))

	rec.failWrite = true
	_, err := h.CreateOrder(ctx, basket("A", 3))
	var perr *orders.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, errDisk)

	assert.Equal(t, 10, stockOf(t, cat, "A"))
	assert.Equal(t, 0, h.ReservedFor("A"))
	assert.Empty(t, h.Orders())

	rec.failWrite = false
	o, err := h.CreateOrder(ctx, basket("A", 3))
	require.NoError(t, err)
	assert.Greater(t, o.ID, perr.OrderID, "failed ids are never reused")
}

func TestMoveFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	h, _, rec := newHub(t, time.Minute, product("A", 10))
	o, err := h.CreateOrder(ctx, basket("A", 3))
	require.NoError(t, err)
	_, err = h.Advance(ctx, o.ID, orders.StateProgressing)
	require.NoError(t, err)

	rec.failMove = true
	_, err = h.Advance(ctx, o.ID, orders.StateCollected)
	var perr *orders.PersistenceError
	require.ErrorAs(t, err, &perr)

	got, err := h.Order(o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateProgressing, got.State)
	assert.Equal(t, 3, h.ReservedFor("A"))
}

func TestFulfillmentDetailOnlyWhileProgressing(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHub(t, time.Minute, product("A", 10))
	o, err := h.CreateOrder(ctx, basket("A", 2))
	require.NoError(t, err)

	_, err = h.FulfillmentDetail(o.ID)
	assert.ErrorIs(t, err, orders.ErrNotInFulfillment)

	_, err = h.Advance(ctx, o.ID, orders.StateProgressing)
	require.NoError(t, err)
	detail, err := h.FulfillmentDetail(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "product A", detail.Items[0].Description)

	_, err = h.Advance(ctx, o.ID, orders.StateCollected)
	require.NoError(t, err)
	_, err = h.FulfillmentDetail(o.ID)
	assert.ErrorIs(t, err, orders.ErrNotInFulfillment)
}

func TestCancelReturnsStockAndReleasesOnce(t *testing.T) {
	ctx := context.Background()
	h, cat, _ := newHub(t, time.Minute, product("A", 10))
	o, err := h.CreateOrder(ctx, basket("A", 4))
	require.NoError(t, err)
	other, err := h.CreateOrder(ctx, basket("A", 1))
	require.NoError(t, err)

	c, err := h.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCancelled, c.State)
	assert.Equal(t, 1, h.ReservedFor("A"))
	assert.Equal(t, 9, stockOf(t, cat, "A"))

	// a second release attempt is refused by the state machine
	_, err = h.Cancel(ctx, o.ID)
	var invalid *orders.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, h.ReservedFor("A"))
	assert.Equal(t, 9, stockOf(t, cat, "A"))

	_, err = h.Advance(ctx, other.ID, orders.StateProgressing)
	require.NoError(t, err)
	_, err = h.Cancel(ctx, other.ID)
	assert.ErrorAs(t, err, &invalid)
}

func TestCollectedOrderCannotBeReleasedAgain(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHub(t, time.Minute, product("A", 10))
	first, err := h.CreateOrder(ctx, basket("A", 2))
	require.NoError(t, err)
	_, err = h.CreateOrder(ctx, basket("A", 3))
	require.NoError(t, err)

	_, err = h.Advance(ctx, first.ID, orders.StateProgressing)
	require.NoError(t, err)
	_, err = h.Advance(ctx, first.ID, orders.StateCollected)
	require.NoError(t, err)
	assert.Equal(t, 3, h.ReservedFor("A"))

	_, err = h.Advance(ctx, first.ID, orders.StateCollected)
	var invalid *orders.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 3, h.ReservedFor("A"))
}

func TestInitializeReplaysReservations(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory(product("A", 20), product("B", 20))
	rec := records.NewMemory()

	h1 := New(cat, rec, WithGracePeriod(time.Minute))
	o1, err := h1.CreateOrder(ctx, basket("A", 2))
	require.NoError(t, err)
	o2, err := h1.CreateOrder(ctx, basket("A", 1, "B", 5))
	require.NoError(t, err)
	o3, err := h1.CreateOrder(ctx, basket("B", 1))
	require.NoError(t, err)
	_, err = h1.Advance(ctx, o2.ID, orders.StateProgressing)
	require.NoError(t, err)
	_, err = h1.Advance(ctx, o3.ID, orders.StateProgressing)
	require.NoError(t, err)
	_, err = h1.Advance(ctx, o3.ID, orders.StateCollected)
	require.NoError(t, err)
	h1.Close()

	h2 := New(cat, rec, WithGracePeriod(time.Minute))
	defer h2.Close()
	require.NoError(t, h2.Initialize(ctx))

	live := h2.Orders()
	require.Len(t, live, 2)
	assert.Equal(t, o1.ID, live[0].ID)
	assert.Equal(t, orders.StateOrdered, live[0].State)
	assert.Equal(t, o2.ID, live[1].ID)
	assert.Equal(t, orders.StateProgressing, live[1].State)

	assert.Equal(t, 3, h2.ReservedFor("A"))
	assert.Equal(t, 5, h2.ReservedFor("B"))
	assertLedgerMatchesOrders(t, h2, "A", "B")

	a, err := h2.Allocation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 20, a.Total)
	assert.Equal(t, 17, a.Available)

	o4, err := h2.CreateOrder(ctx, basket("A", 1))
	require.NoError(t, err)
	assert.Greater(t, o4.ID, o3.ID)

	// the replayed reservation is released normally
	_, err = h2.Advance(ctx, o2.ID, orders.StateCollected)
	require.NoError(t, err)
	assert.Equal(t, 3, h2.ReservedFor("A"))
	assert.Equal(t, 0, h2.ReservedFor("B"))
}

func TestObserversSeeChangeBeforeReturn(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHub(t, 20*time.Millisecond, product("A", 10))

	var (
		mu   sync.Mutex
		seen []Snapshot
	)
	unsubscribe := h.Subscribe(ObserverFunc(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}))

	o, err := h.CreateOrder(ctx, basket("A", 1))
	require.NoError(t, err)
	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, o.ID, seen[0].Change.Order.ID)
	assert.Equal(t, orders.State(""), seen[0].Change.From)
	assert.Len(t, seen[0].Filter(orders.StateOrdered), 1)
	mu.Unlock()

	_, err = h.Advance(ctx, o.ID, orders.StateProgressing)
	require.NoError(t, err)
	_, err = h.Advance(ctx, o.ID, orders.StateCollected)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4 && seen[3].Change.Removed
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Version, seen[i-1].Version)
	}
	assert.Equal(t, orders.StateOrdered, seen[1].Change.From)
	assert.Empty(t, seen[3].Orders)
	mu.Unlock()

	unsubscribe()
	_, err = h.CreateOrder(ctx, basket("A", 1))
	require.NoError(t, err)
	mu.Lock()
	assert.Len(t, seen, 4)
	mu.Unlock()
}

func TestMetricsTrackCheckouts(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	cat := catalog.NewMemory(product("A", 3))
	h := New(cat, records.NewMemory(), WithMetrics(m), WithGracePeriod(time.Minute))
	defer h.Close()

	o, err := h.CreateOrder(ctx, basket("A", 2))
	require.NoError(t, err)
	_, err = h.CreateOrder(ctx, basket("A", 2))
	require.Error(t, err)
	_, err = h.Advance(ctx, o.ID, orders.StateProgressing)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckoutRejected.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues(string(orders.StateProgressing))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveOrders.WithLabelValues(string(orders.StateProgressing))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReservedUnits.WithLabelValues("A")))
}

func TestLogsReservationsAndDroppedRemovals(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := records.NewMemory()
	cat := catalog.NewMemory(product("A", 5))
	ctx := context.Background()

	first := New(cat, rec)
	o, err := first.CreateOrder(ctx, basket("A", 2))
	require.NoError(t, err)
	first.Close()

	h := New(cat, rec, WithGracePeriod(time.Hour), WithLogger(zap.New(core)))
	require.NoError(t, h.Initialize(ctx))
	rebuilt := logs.FilterMessage("order index rebuilt").All()
	require.Len(t, rebuilt, 1)
	assert.Equal(t, int64(1), rebuilt[0].ContextMap()["reservations"])
	assert.Equal(t, int64(2), rebuilt[0].ContextMap()["next_id"])

	_, err = h.Cancel(ctx, o.ID)
	require.NoError(t, err)
	h.Close()

	dropped := logs.FilterMessage("dropping pending removals").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(1), dropped[0].ContextMap()["orders"])
}
