package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limit(user string, side Side, amount, price string) orderSpec {
	return orderSpec{user: user, side: side, mode: ModeLimit, amount: d(amount), price: d(price)}
}

func market(user string, side Side, amount string) orderSpec {
	return orderSpec{user: user, side: side, mode: ModeMarket, amount: d(amount)}
}

func submit(t *testing.T, m *Matcher, spec orderSpec) *MatchResult {
	t.Helper()
	res, err := m.Submit(spec)
	require.NoError(t, err)
	return res
}

func TestRestingOrderOpens(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	res := submit(t, m, limit("A", SideSell, "5", "10"))
	assert.Equal(t, StatusOpen, res.Status)
	assert.True(t, res.Resting)
	assert.Empty(t, res.Trades)
	assert.Len(t, ob.askPrices, 1)
	assert.True(t, ob.IsEmpty(SideBuy))
}

func TestFullFill(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	sell := submit(t, m, limit("A", SideSell, "5", "10"))
	buy := submit(t, m, limit("B", SideBuy, "5", "10"))

	require.Len(t, buy.Trades, 1)
	tr := buy.Trades[0]
	assert.True(t, tr.Amount.Equal(d("5")))
	assert.True(t, tr.Price.Equal(d("10")))
	assert.Equal(t, sell.OrderID, tr.SellerOrderID)
	assert.Equal(t, buy.OrderID, tr.BuyerOrderID)
	assert.Equal(t, "A", tr.Seller)
	assert.Equal(t, "B", tr.Buyer)

	assert.Equal(t, StatusCompleted, buy.Status)
	assert.Equal(t, StatusCompleted, sell.order.Status)
	assert.Empty(t, ob.ordersByID, "expected empty book")
	assert.Empty(t, ob.askPrices)
	assert.Empty(t, ob.bidPrices)
}

func TestPartialFill(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	sell := submit(t, m, limit("A", SideSell, "10", "10"))
	buy := submit(t, m, limit("B", SideBuy, "4", "10"))

	require.Len(t, buy.Trades, 1)
	assert.True(t, buy.Trades[0].Amount.Equal(d("4")))
	assert.Equal(t, StatusCompleted, buy.Status)

	ref, ok := ob.ordersByID[sell.OrderID]
	require.True(t, ok, "seller was removed")
	maker := ref.elem.Value.(*Order)
	assert.Equal(t, StatusPartial, maker.Status)
	assert.True(t, maker.RemainingAmount.Equal(d("6")))
	assert.Equal(t, []int64{buy.Trades[0].ID}, maker.TradeIDs)
	assert.True(t, ob.asks[priceKey(d("10"))].total.Equal(d("6")))

	// market buyer takes the rest
	mkt := submit(t, m, market("C", SideBuy, "6"))
	require.Len(t, mkt.Trades, 1)
	assert.True(t, mkt.Trades[0].Amount.Equal(d("6")))
	assert.True(t, mkt.Trades[0].Price.Equal(d("10")))
	assert.Equal(t, StatusCompleted, mkt.Status)
	assert.Equal(t, StatusCompleted, maker.Status)
	assert.Zero(t, ob.Len())
}

func TestMarketOnEmptyBookCancels(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	res := submit(t, m, market("D", SideBuy, "3"))
	assert.Empty(t, res.Trades)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.True(t, res.Remaining.Equal(d("3")))
	assert.False(t, res.Resting)
	assert.Zero(t, ob.Len())
}

func TestMarketRemainderCancels(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	submit(t, m, limit("A", SideBuy, "2", "9"))
	res := submit(t, m, market("B", SideSell, "5"))

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(d("9")))
	assert.Equal(t, StatusCancelled, res.Status)
	assert.True(t, res.Remaining.Equal(d("3")))
	assert.Zero(t, ob.Len())
}

func TestTimePriorityWithinLevel(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	x := submit(t, m, limit("X", SideSell, "1", "10"))
	y := submit(t, m, limit("Y", SideSell, "1", "10"))
	buy := submit(t, m, limit("B", SideBuy, "1", "10"))

	require.Len(t, buy.Trades, 1)
	assert.Equal(t, x.OrderID, buy.Trades[0].SellerOrderID)
	_, ok := ob.Get(y.OrderID)
	assert.True(t, ok)
}

func TestPartialKeepsQueuePosition(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	x := submit(t, m, limit("X", SideSell, "3", "10"))
	y := submit(t, m, limit("Y", SideSell, "3", "10"))
	submit(t, m, limit("B", SideBuy, "1", "10"))

	// X is partial but still ahead of Y
	assert.Equal(t, x.OrderID, ob.PeekBest(SideSell).ID)
	next := submit(t, m, limit("C", SideBuy, "3", "10"))
	require.Len(t, next.Trades, 2)
	assert.Equal(t, x.OrderID, next.Trades[0].SellerOrderID)
	assert.True(t, next.Trades[0].Amount.Equal(d("2")))
	assert.Equal(t, y.OrderID, next.Trades[1].SellerOrderID)
	assert.True(t, next.Trades[1].Amount.Equal(d("1")))
}

func TestNoMatch(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	sell := submit(t, m, limit("A", SideSell, "3", "130"))
	buy := submit(t, m, limit("B", SideBuy, "1", "110"))

	assert.Empty(t, buy.Trades)
	_, ok1 := ob.ordersByID[sell.OrderID]
	_, ok2 := ob.ordersByID[buy.OrderID]
	assert.True(t, ok1 && ok2, "order was removed")
	assert.Len(t, ob.askPrices, 1)
	assert.Len(t, ob.bidPrices, 1)
}

func TestTradeAtMakerPrice(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	submit(t, m, limit("A", SideBuy, "2", "105"))
	res := submit(t, m, limit("B", SideSell, "1", "104"))

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(d("105")))
	assert.Equal(t, SideSell, res.Trades[0].TakerSide)
	assert.Equal(t, res.OrderID, res.Trades[0].TakerOrderID())
}

func TestMarketWalk(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	var ids []int64
	for i := range 10 {
		price := decimal.NewFromInt(int64(100 + i)).String()
		ids = append(ids, submit(t, m, limit("s", SideSell, "1", price)).OrderID)
	}

	res := submit(t, m, limit("b", SideBuy, "5", "115"))
	require.Len(t, res.Trades, 5)
	for i, tr := range res.Trades {
		assert.True(t, tr.Price.Equal(decimal.NewFromInt(int64(100+i))), "walks best price first")
	}
	for _, id := range ids[:5] {
		_, ok := ob.ordersByID[id]
		assert.False(t, ok, "orders not filled")
	}
	for _, id := range ids[5:] {
		_, ok := ob.ordersByID[id]
		assert.True(t, ok, "orders missing")
	}
	_, ok := ob.ordersByID[res.OrderID]
	assert.False(t, ok, "taker should be fully filled and not resting")
	assert.Len(t, ob.askPrices, 5)
}

func TestLimitRemainderRestsPartial(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	submit(t, m, limit("A", SideSell, "1", "10"))
	submit(t, m, limit("A", SideSell, "1", "12"))
	res := submit(t, m, limit("B", SideBuy, "3", "11"))

	require.Len(t, res.Trades, 1)
	assert.Equal(t, StatusPartial, res.Status)
	assert.True(t, res.Resting)
	assert.True(t, res.Remaining.Equal(d("2")))
	assert.Equal(t, res.OrderID, ob.PeekBest(SideBuy).ID)
	assert.True(t, ob.PeekBest(SideSell).Price.Equal(d("12")))
}

func TestFractionalAmounts(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	submit(t, m, limit("A", SideSell, "0.75", "0.21"))
	res := submit(t, m, limit("B", SideBuy, "0.5", "0.25"))

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Amount.Equal(d("0.5")))
	assert.True(t, res.Trades[0].Notional().Equal(d("0.105")))
	assert.True(t, ob.PeekBest(SideSell).RemainingAmount.Equal(d("0.25")))
}

func TestTimestampsAreOrdered(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	sell := submit(t, m, limit("A", SideSell, "1", "10"))
	buy := submit(t, m, limit("B", SideBuy, "1", "10"))

	tr := buy.Trades[0]
	assert.Greater(t, tr.ExecutedAt, sell.Order.SubmittedAt)
	assert.Greater(t, tr.ExecutedAt, buy.Order.SubmittedAt)
	assert.Greater(t, buy.OrderID, sell.OrderID)
}

func TestTouchedAndChanges(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	sell := submit(t, m, limit("A", SideSell, "2", "10"))
	buy := submit(t, m, limit("B", SideBuy, "1", "10"))

	require.Len(t, buy.touched, 2)
	assert.Equal(t, sell.OrderID, buy.touched[0].ID)
	assert.Equal(t, buy.OrderID, buy.touched[1].ID, "taker last")

	require.Len(t, buy.changes, 2)
	assert.Equal(t, StatusOpen, buy.changes[0].from)
	assert.Equal(t, StatusPartial, buy.changes[0].order.Status)
	assert.Equal(t, StatusCompleted, buy.changes[1].order.Status)
}

func TestChangeLogRejectsIllegalTransition(t *testing.T) {
	o := newTestOrder(1, SideBuy, "10", "1")
	o.Status = StatusCompleted
	o.RemainingAmount = decimal.Zero

	var cl changeLog
	err := cl.move(o, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Empty(t, cl)

	// a transition that would break the remaining/status relation is undone
	p := newTestOrder(2, SideBuy, "10", "1")
	err = cl.move(p, StatusCompleted)
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Equal(t, StatusOpen, p.Status)
}

func TestCheckAbortsBeforeMutation(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob)

	maker := newTestOrder(1, SideSell, "10", "1")
	require.NoError(t, ob.Insert(maker))
	m.seq.lastOrderID, m.seq.clock = 1, 1

	// corrupt the resting order so the plan is rejected
	maker.Status = StatusCompleted

	_, err := m.Submit(limit("B", SideBuy, "1", "10"))
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Equal(t, 1, ob.Len())
	assert.True(t, maker.RemainingAmount.Equal(d("1")))
	assert.True(t, ob.IsEmpty(SideBuy))
}
