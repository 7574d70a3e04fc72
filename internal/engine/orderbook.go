package engine

import (
	"container/list"
	"sort"

	"github.com/shopspring/decimal"
)

// priceLevel holds FIFO orders for one price.
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List // of *Order, oldest SubmittedAt first
	total  decimal.Decimal
}

type orderRef struct {
	side  Side
	price decimal.Decimal
	elem  *list.Element
}

// Level is an aggregated view of one price level.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Orders int             `json:"orders"`
}

// OrderBook holds resting limit orders. It is not safe for concurrent use;
// the engine loop is its only writer and reader.
type OrderBook struct {
	// key = canonical price string, value = *priceLevel
	bids map[string]*priceLevel
	asks map[string]*priceLevel

	// best first; binary searched on insert and removal
	bidPrices []decimal.Decimal // sorted desc
	askPrices []decimal.Decimal // sorted asc

	ordersByID map[int64]orderRef
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids:       make(map[string]*priceLevel),
		asks:       make(map[string]*priceLevel),
		bidPrices:  make([]decimal.Decimal, 0),
		askPrices:  make([]decimal.Decimal, 0),
		ordersByID: make(map[int64]orderRef),
	}
}

// priceKey normalises trailing zeros so 10 and 10.00 share a level.
func priceKey(p decimal.Decimal) string {
	return p.String()
}

func (ob *OrderBook) side(s Side) (map[string]*priceLevel, *[]decimal.Decimal) {
	if s == SideBuy {
		return ob.bids, &ob.bidPrices
	}
	return ob.asks, &ob.askPrices
}

// search returns the index of the first price that is not strictly better
// than p on side s.
func search(s Side, prices []decimal.Decimal, p decimal.Decimal) int {
	if s == SideBuy {
		return sort.Search(len(prices), func(i int) bool { return prices[i].LessThanOrEqual(p) })
	}
	return sort.Search(len(prices), func(i int) bool { return prices[i].GreaterThanOrEqual(p) })
}

// Insert rests a limit order. Its queue position is decided by its original
// SubmittedAt, so an order that already traded keeps its priority.
func (ob *OrderBook) Insert(o *Order) error {
	if o.IsMarket() {
		return invariantf("market order %d cannot rest", o.ID)
	}
	if !o.RemainingAmount.IsPositive() {
		return invariantf("order %d has nothing left to rest", o.ID)
	}
	if _, dup := ob.ordersByID[o.ID]; dup {
		return invariantf("order %d already resting", o.ID)
	}

	levels, prices := ob.side(o.Side)
	key := priceKey(o.Price)
	lvl, ok := levels[key]
	if !ok {
		lvl = &priceLevel{price: o.Price, orders: list.New()}
		levels[key] = lvl
		i := search(o.Side, *prices, o.Price)
		*prices = append(*prices, decimal.Decimal{})
		copy((*prices)[i+1:], (*prices)[i:])
		(*prices)[i] = o.Price
	}

	// walk back past younger orders; new submissions land at the tail
	var elem *list.Element
	mark := lvl.orders.Back()
	for mark != nil && mark.Value.(*Order).SubmittedAt > o.SubmittedAt {
		mark = mark.Prev()
	}
	if mark == nil {
		elem = lvl.orders.PushFront(o)
	} else {
		elem = lvl.orders.InsertAfter(o, mark)
	}
	lvl.total = lvl.total.Add(o.RemainingAmount)

	ob.ordersByID[o.ID] = orderRef{side: o.Side, price: o.Price, elem: elem}
	return nil
}

// Remove takes an order off the book. It returns false if it is not resting.
func (ob *OrderBook) Remove(id int64) (*Order, bool) {
	ref, ok := ob.ordersByID[id]
	if !ok {
		return nil, false
	}
	levels, _ := ob.side(ref.side)
	lvl := levels[priceKey(ref.price)]
	o := lvl.orders.Remove(ref.elem).(*Order)
	lvl.total = lvl.total.Sub(o.RemainingAmount)
	delete(ob.ordersByID, id)

	if lvl.orders.Len() == 0 {
		ob.removeLevel(ref.side, ref.price)
	}
	return o, true
}

func (ob *OrderBook) removeLevel(s Side, price decimal.Decimal) {
	levels, prices := ob.side(s)
	delete(levels, priceKey(price))
	i := search(s, *prices, price)
	if i < len(*prices) && (*prices)[i].Equal(price) {
		*prices = append((*prices)[:i], (*prices)[i+1:]...)
	}
}

// fill executes amount against a resting order and drops it from the book
// once nothing remains.
func (ob *OrderBook) fill(id int64, amount decimal.Decimal) error {
	ref, ok := ob.ordersByID[id]
	if !ok {
		return invariantf("fill on order %d that is not resting", id)
	}
	levels, _ := ob.side(ref.side)
	lvl := levels[priceKey(ref.price)]
	o := ref.elem.Value.(*Order)
	if amount.GreaterThan(o.RemainingAmount) {
		return invariantf("fill %s exceeds remaining %s of order %d", amount, o.RemainingAmount, id)
	}

	o.RemainingAmount = o.RemainingAmount.Sub(amount)
	lvl.total = lvl.total.Sub(amount)
	if o.RemainingAmount.IsZero() {
		lvl.orders.Remove(ref.elem)
		delete(ob.ordersByID, id)
		if lvl.orders.Len() == 0 {
			ob.removeLevel(ref.side, ref.price)
		}
	}
	return nil
}

func (ob *OrderBook) bestLevel(s Side) *priceLevel {
	levels, prices := ob.side(s)
	if len(*prices) == 0 {
		return nil
	}
	return levels[priceKey((*prices)[0])]
}

// PeekBest returns the highest-priority resting order on side s, or nil.
func (ob *OrderBook) PeekBest(s Side) *Order {
	lvl := ob.bestLevel(s)
	if lvl == nil {
		return nil
	}
	return lvl.orders.Front().Value.(*Order)
}

func (ob *OrderBook) IsEmpty(s Side) bool {
	_, prices := ob.side(s)
	return len(*prices) == 0
}

// Get returns a resting order by id.
func (ob *OrderBook) Get(id int64) (*Order, bool) {
	ref, ok := ob.ordersByID[id]
	if !ok {
		return nil, false
	}
	return ref.elem.Value.(*Order), true
}

// Len is the number of resting orders on both sides.
func (ob *OrderBook) Len() int { return len(ob.ordersByID) }

// SideLen is the number of resting orders on one side.
func (ob *OrderBook) SideLen(s Side) int {
	levels, _ := ob.side(s)
	n := 0
	for _, lvl := range levels {
		n += lvl.orders.Len()
	}
	return n
}

// Orders returns snapshots of every resting order, bids then asks, each side
// in matching priority.
func (ob *OrderBook) Orders() []Order {
	out := make([]Order, 0, len(ob.ordersByID))
	for _, s := range []Side{SideBuy, SideSell} {
		levels, prices := ob.side(s)
		for _, p := range *prices {
			for e := levels[priceKey(p)].orders.Front(); e != nil; e = e.Next() {
				out = append(out, e.Value.(*Order).Snapshot())
			}
		}
	}
	return out
}

// Depth aggregates up to n levels of side s, best first. n <= 0 means all.
func (ob *OrderBook) Depth(s Side, n int) []Level {
	levels, prices := ob.side(s)
	if n <= 0 || n > len(*prices) {
		n = len(*prices)
	}
	out := make([]Level, 0, n)
	for _, p := range (*prices)[:n] {
		lvl := levels[priceKey(p)]
		out = append(out, Level{Price: lvl.price, Amount: lvl.total, Orders: lvl.orders.Len()})
	}
	return out
}
