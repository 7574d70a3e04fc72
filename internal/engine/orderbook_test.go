package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestOrder builds a resting limit order; id doubles as its clock tick.
func newTestOrder(id int64, side Side, price, qty string) *Order {
	return &Order{
		ID:              id,
		User:            "u1",
		Side:            side,
		Mode:            ModeLimit,
		Price:           d(price),
		OriginalAmount:  d(qty),
		RemainingAmount: d(qty),
		Status:          StatusOpen,
		SubmittedAt:     id,
		CreatedAt:       time.Now(),
	}
}

func TestInsertStoresInLookup(t *testing.T) {
	ob := NewOrderBook()
	require.NoError(t, ob.Insert(newTestOrder(1, SideBuy, "100", "10")))

	ref, ok := ob.ordersByID[1]
	require.True(t, ok, "order not found in ordersByID")
	assert.Equal(t, SideBuy, ref.side)
	assert.True(t, ref.price.Equal(d("100")))
}

func TestInsertRejects(t *testing.T) {
	ob := NewOrderBook()
	require.NoError(t, ob.Insert(newTestOrder(1, SideBuy, "100", "10")))

	err := ob.Insert(newTestOrder(1, SideBuy, "100", "10"))
	assert.ErrorIs(t, err, ErrInvariant, "duplicate id")

	mkt := newTestOrder(2, SideBuy, "0", "1")
	mkt.Mode = ModeMarket
	assert.ErrorIs(t, ob.Insert(mkt), ErrInvariant, "market orders never rest")

	empty := newTestOrder(3, SideSell, "100", "1")
	empty.RemainingAmount = decimal.Zero
	assert.ErrorIs(t, ob.Insert(empty), ErrInvariant)

	assert.Equal(t, 1, ob.Len())
}

func TestPriceLevelsShareEquivalentDecimals(t *testing.T) {
	ob := NewOrderBook()
	require.NoError(t, ob.Insert(newTestOrder(1, SideSell, "10", "1")))
	require.NoError(t, ob.Insert(newTestOrder(2, SideSell, "10.00", "2")))

	require.Len(t, ob.askPrices, 1)
	lvl := ob.asks[priceKey(d("10"))]
	require.NotNil(t, lvl)
	assert.Equal(t, 2, lvl.orders.Len())
	assert.True(t, lvl.total.Equal(d("3")))
}

func TestPriceOrdering(t *testing.T) {
	ob := NewOrderBook()
	for i, p := range []string{"101", "99", "105", "100"} {
		require.NoError(t, ob.Insert(newTestOrder(int64(i+1), SideBuy, p, "1")))
		require.NoError(t, ob.Insert(newTestOrder(int64(i+10), SideSell, p, "1")))
	}

	bids := make([]string, 0, len(ob.bidPrices))
	for _, p := range ob.bidPrices {
		bids = append(bids, p.String())
	}
	asks := make([]string, 0, len(ob.askPrices))
	for _, p := range ob.askPrices {
		asks = append(asks, p.String())
	}
	assert.Equal(t, []string{"105", "101", "100", "99"}, bids)
	assert.Equal(t, []string{"99", "100", "101", "105"}, asks)

	assert.Equal(t, int64(3), ob.PeekBest(SideBuy).ID)
	assert.Equal(t, int64(11), ob.PeekBest(SideSell).ID)
}

func TestInsertKeepsTimePriority(t *testing.T) {
	ob := NewOrderBook()
	late := newTestOrder(5, SideSell, "100", "1")
	early := newTestOrder(2, SideSell, "100", "1")
	mid := newTestOrder(3, SideSell, "100", "1")
	require.NoError(t, ob.Insert(late))
	require.NoError(t, ob.Insert(early))
	require.NoError(t, ob.Insert(mid))

	var got []int64
	for _, o := range ob.Orders() {
		got = append(got, o.ID)
	}
	assert.Equal(t, []int64{2, 3, 5}, got)
}

func TestRemoveFromLevel(t *testing.T) {
	ob := NewOrderBook()
	require.NoError(t, ob.Insert(newTestOrder(1, SideSell, "105", "5")))
	require.NoError(t, ob.Insert(newTestOrder(2, SideSell, "105", "5")))

	o, ok := ob.Remove(1)
	require.True(t, ok, "expected remove to succeed")
	assert.Equal(t, int64(1), o.ID)

	// level should still exist (2 still there)
	lvl := ob.asks[priceKey(d("105"))]
	require.NotNil(t, lvl)
	assert.Equal(t, 1, lvl.orders.Len())
	assert.True(t, lvl.total.Equal(d("5")))
	_, still := ob.ordersByID[1]
	assert.False(t, still, "expected 1 to be removed from lookup")

	_, ok = ob.Remove(1)
	assert.False(t, ok)
}

func TestRemoveLastOrderRemovesLevel(t *testing.T) {
	ob := NewOrderBook()
	require.NoError(t, ob.Insert(newTestOrder(1, SideBuy, "99", "5")))

	_, ok := ob.Remove(1)
	require.True(t, ok)
	assert.Empty(t, ob.bidPrices)
	_, ok = ob.bids[priceKey(d("99"))]
	assert.False(t, ok, "expected bids[99] to be removed")
	assert.True(t, ob.IsEmpty(SideBuy))
	assert.Nil(t, ob.PeekBest(SideBuy))
}

func TestFillDropsExhaustedOrder(t *testing.T) {
	ob := NewOrderBook()
	require.NoError(t, ob.Insert(newTestOrder(1, SideSell, "10", "3")))

	require.NoError(t, ob.fill(1, d("1")))
	o, ok := ob.Get(1)
	require.True(t, ok)
	assert.True(t, o.RemainingAmount.Equal(d("2")))
	assert.True(t, ob.asks[priceKey(d("10"))].total.Equal(d("2")))

	assert.ErrorIs(t, ob.fill(1, d("5")), ErrInvariant)
	require.NoError(t, ob.fill(1, d("2")))
	assert.Zero(t, ob.Len())
	assert.Empty(t, ob.askPrices)
}

func TestDepth(t *testing.T) {
	ob := NewOrderBook()
	require.NoError(t, ob.Insert(newTestOrder(1, SideBuy, "10", "1.5")))
	require.NoError(t, ob.Insert(newTestOrder(2, SideBuy, "10", "2")))
	require.NoError(t, ob.Insert(newTestOrder(3, SideBuy, "9", "4")))
	require.NoError(t, ob.Insert(newTestOrder(4, SideBuy, "8", "1")))

	all := ob.Depth(SideBuy, 0)
	require.Len(t, all, 3)
	assert.True(t, all[0].Price.Equal(d("10")))
	assert.True(t, all[0].Amount.Equal(d("3.5")))
	assert.Equal(t, 2, all[0].Orders)

	top := ob.Depth(SideBuy, 2)
	require.Len(t, top, 2)
	assert.True(t, top[1].Price.Equal(d("9")))

	assert.Empty(t, ob.Depth(SideSell, 5))
	assert.Equal(t, 4, ob.SideLen(SideBuy))
	assert.Zero(t, ob.SideLen(SideSell))
}
