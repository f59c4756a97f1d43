package ledger

import (
	"testing"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAccumulatesAcrossOrders(t *testing.T) {
	l := New()
	require.NoError(t, l.Reserve(1, []orders.ItemQty{{ProductID: "A", Qty: 2}, {ProductID: "B", Qty: 1}}))
	require.NoError(t, l.Reserve(2, []orders.ItemQty{{ProductID: "A", Qty: 3}}))

	assert.Equal(t, 5, l.ReservedFor("A"))
	assert.Equal(t, 1, l.ReservedFor("B"))
	assert.Equal(t, 0, l.ReservedFor("unknown"))
	assert.Equal(t, 2, l.Len())
}

func TestReserveTwiceForSameOrderIsRejected(t *testing.T) {
	l := New()
	require.NoError(t, l.Reserve(1, []orders.ItemQty{{ProductID: "A", Qty: 2}}))
	assert.ErrorIs(t, l.Reserve(1, []orders.ItemQty{{ProductID: "A", Qty: 2}}), ErrAlreadyReserved)
	assert.Equal(t, 2, l.ReservedFor("A"))
}

func TestReleaseRemovesZeroedEntries(t *testing.T) {
	l := New()
	require.NoError(t, l.Reserve(1, []orders.ItemQty{{ProductID: "A", Qty: 2}}))
	require.NoError(t, l.Reserve(2, []orders.ItemQty{{ProductID: "A", Qty: 1}, {ProductID: "B", Qty: 4}}))

	items, ok := l.Release(2)
	require.True(t, ok)
	assert.Len(t, items, 2)
	assert.Equal(t, map[string]int{"A": 2}, l.Reserved())
	assert.Equal(t, 1, l.Len())
}

func TestReleaseIsNoOpSecondTime(t *testing.T) {
	l := New()
	require.NoError(t, l.Reserve(1, []orders.ItemQty{{ProductID: "A", Qty: 2}}))
	require.NoError(t, l.Reserve(2, []orders.ItemQty{{ProductID: "A", Qty: 3}}))

	_, ok := l.Release(1)
	require.True(t, ok)
	_, ok = l.Release(1)
	assert.False(t, ok)

	assert.Equal(t, 3, l.ReservedFor("A"))
}

func TestAllocationSplitsStock(t *testing.T) {
	l := New()
	require.NoError(t, l.Reserve(1, []orders.ItemQty{{ProductID: "0009", Qty: 4}}))

	a := l.Allocation("0009", 6)
	assert.Equal(t, Allocation{ProductID: "0009", Total: 10, Reserved: 4, Available: 6}, a)
	assert.LessOrEqual(t, a.Reserved, a.Total)
}
