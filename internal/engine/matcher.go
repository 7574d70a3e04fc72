package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchResult is what one submission produced.
type MatchResult struct {
	OrderID   int64           `json:"order_id"`
	Status    Status          `json:"status"`
	Remaining decimal.Decimal `json:"remaining"`
	Resting   bool            `json:"resting"`
	Trades    []Trade         `json:"trades"`
	Order     Order           `json:"order"`

	order *Order
	// every order mutated by the submission, taker last
	touched []Order
	changes changeLog
}

type statusChange struct {
	order Order
	from  Status
}

type changeLog []statusChange

// move transitions o along the status lattice and records the change.
func (cl *changeLog) move(o *Order, to Status) error {
	from := o.Status
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		return invariantf("order %d: illegal transition %s -> %s", o.ID, from, to)
	}
	o.Status = to
	if err := o.checkInvariants(); err != nil {
		o.Status = from
		return err
	}
	*cl = append(*cl, statusChange{order: o.Snapshot(), from: from})
	return nil
}

// sequence hands out order ids, trade ids and logical timestamps. Orders and
// trades share one clock so a trade always executes after both its orders
// were submitted.
type sequence struct {
	lastOrderID int64
	lastTradeID int64
	clock       int64
}

func (s *sequence) orderID() int64 { s.lastOrderID++; return s.lastOrderID }
func (s *sequence) tradeID() int64 { s.lastTradeID++; return s.lastTradeID }
func (s *sequence) tick() int64    { s.clock++; return s.clock }

type Matcher struct {
	book *OrderBook
	seq  *sequence
	now  func() time.Time
}

func NewMatcher(book *OrderBook) *Matcher {
	return &Matcher{book: book, seq: &sequence{}, now: time.Now}
}

type fill struct {
	maker  *Order
	amount decimal.Decimal
}

// Submit accepts a validated order, matches it against the opposite side
// under price-time priority and rests any limit remainder.
func (m *Matcher) Submit(spec orderSpec) (*MatchResult, error) {
	o := &Order{
		ID:              m.seq.orderID(),
		User:            spec.user,
		Side:            spec.side,
		Mode:            spec.mode,
		Price:           spec.price,
		OriginalAmount:  spec.amount,
		RemainingAmount: spec.amount,
		Status:          StatusOpen,
		SubmittedAt:     m.seq.tick(),
		CreatedAt:       m.now().UTC(),
	}

	fills := m.plan(o)
	if err := m.check(o, fills); err != nil {
		return nil, err
	}
	return m.apply(o, fills)
}

// crosses reports whether taker may trade against a resting order at price.
// Market orders always cross.
func crosses(taker *Order, price decimal.Decimal) bool {
	if taker.IsMarket() {
		return true
	}
	if taker.Side == SideBuy {
		return taker.Price.GreaterThanOrEqual(price)
	}
	return taker.Price.LessThanOrEqual(price)
}

// plan walks the opposite side best first without mutating anything.
func (m *Matcher) plan(o *Order) []fill {
	var fills []fill
	left := o.RemainingAmount

	levels, prices := m.book.side(o.Side.Opposite())
	for _, p := range *prices {
		if !left.IsPositive() || !crosses(o, p) {
			break
		}
		for e := levels[priceKey(p)].orders.Front(); e != nil && left.IsPositive(); e = e.Next() {
			maker := e.Value.(*Order)
			qty := decimal.Min(left, maker.RemainingAmount)
			fills = append(fills, fill{maker: maker, amount: qty})
			left = left.Sub(qty)
		}
	}
	return fills
}

// check asserts the plan before any state changes so a violation aborts
// the submission with the book intact.
func (m *Matcher) check(o *Order, fills []fill) error {
	total := decimal.Zero
	for _, f := range fills {
		if !f.amount.IsPositive() {
			return invariantf("non-positive fill %s against order %d", f.amount, f.maker.ID)
		}
		if f.amount.GreaterThan(f.maker.RemainingAmount) {
			return invariantf("fill %s exceeds remaining %s of order %d", f.amount, f.maker.RemainingAmount, f.maker.ID)
		}
		if f.maker.Side == o.Side {
			return invariantf("order %d would trade against its own side", o.ID)
		}
		if !crosses(o, f.maker.Price) {
			return invariantf("order %d does not cross maker %d at %s", o.ID, f.maker.ID, f.maker.Price)
		}
		if f.maker.Status.Terminal() {
			return invariantf("maker %d is %s but resting", f.maker.ID, f.maker.Status)
		}
		total = total.Add(f.amount)
	}
	if total.GreaterThan(o.RemainingAmount) {
		return invariantf("planned %s exceeds order %d amount %s", total, o.ID, o.RemainingAmount)
	}
	return nil
}

func (m *Matcher) apply(o *Order, fills []fill) (*MatchResult, error) {
	res := &MatchResult{OrderID: o.ID, Trades: make([]Trade, 0, len(fills))}

	for _, f := range fills {
		maker := f.maker
		tr := Trade{
			ID:         m.seq.tradeID(),
			TakerSide:  o.Side,
			Amount:     f.amount,
			Price:      maker.Price, // maker sets the price
			ExecutedAt: m.seq.tick(),
			CreatedAt:  m.now().UTC(),
		}
		if o.Side == SideBuy {
			tr.BuyerOrderID, tr.Buyer = o.ID, o.User
			tr.SellerOrderID, tr.Seller = maker.ID, maker.User
		} else {
			tr.BuyerOrderID, tr.Buyer = maker.ID, maker.User
			tr.SellerOrderID, tr.Seller = o.ID, o.User
		}

		if err := m.book.fill(maker.ID, f.amount); err != nil {
			return nil, err
		}
		maker.TradeIDs = append(maker.TradeIDs, tr.ID)
		if err := res.changes.move(maker, maker.statusForRemaining()); err != nil {
			return nil, err
		}
		res.touched = append(res.touched, maker.Snapshot())

		o.RemainingAmount = o.RemainingAmount.Sub(f.amount)
		o.TradeIDs = append(o.TradeIDs, tr.ID)
		res.Trades = append(res.Trades, tr)
	}

	switch {
	case o.RemainingAmount.IsZero():
		if err := res.changes.move(o, StatusCompleted); err != nil {
			return nil, err
		}
	case o.IsMarket():
		// nothing left to cross: the remainder never rests
		if err := res.changes.move(o, StatusCancelled); err != nil {
			return nil, err
		}
	default:
		if err := res.changes.move(o, o.statusForRemaining()); err != nil {
			return nil, err
		}
		if err := m.book.Insert(o); err != nil {
			return nil, err
		}
		res.Resting = true
	}

	res.Status = o.Status
	res.Remaining = o.RemainingAmount
	res.Order = o.Snapshot()
	res.order = o
	res.touched = append(res.touched, res.Order)
	return res, nil
}
