package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side an order of s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	}
	return "", &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", s)}
}

type Mode string

const (
	ModeLimit  Mode = "limit"
	ModeMarket Mode = "market"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "limit":
		return ModeLimit, nil
	case "market":
		return ModeMarket, nil
	}
	return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
}

type Status string

const (
	StatusOpen      Status = "open"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// canTransition encodes the status lattice:
// open -> partial -> completed, open -> completed, open|partial -> cancelled.
func canTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusPartial || to == StatusCompleted || to == StatusCancelled
	case StatusPartial:
		return to == StatusPartial || to == StatusCompleted || to == StatusCancelled
	}
	return false
}

// Order is owned by the engine while it is live. Callers only ever see
// copies returned by Snapshot.
type Order struct {
	ID              int64           `json:"id"`
	User            string          `json:"user"`
	Side            Side            `json:"side"`
	Mode            Mode            `json:"mode"`
	Price           decimal.Decimal `json:"price"` // zero for market orders
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          Status          `json:"status"`
	SubmittedAt     int64           `json:"submitted_at"` // logical clock tick
	LastSeq         int64           `json:"last_seq"`     // commit sequence of the last batch that changed it
	CreatedAt       time.Time       `json:"created_at"`
	TradeIDs        []int64         `json:"trade_ids"`
}

func (o *Order) IsMarket() bool { return o.Mode == ModeMarket }

// Filled is the amount executed so far.
func (o *Order) Filled() decimal.Decimal {
	return o.OriginalAmount.Sub(o.RemainingAmount)
}

// Snapshot returns a deep copy safe to hand out of the engine.
func (o *Order) Snapshot() Order {
	cp := *o
	cp.TradeIDs = append([]int64(nil), o.TradeIDs...)
	return cp
}

// statusForRemaining derives the status a live order must carry for its
// remaining amount.
func (o *Order) statusForRemaining() Status {
	switch {
	case o.RemainingAmount.IsZero():
		return StatusCompleted
	case o.RemainingAmount.Equal(o.OriginalAmount):
		return StatusOpen
	default:
		return StatusPartial
	}
}

// checkInvariants verifies the per-order invariants. A non-nil result means
// the engine has a bug.
func (o *Order) checkInvariants() error {
	if o.RemainingAmount.IsNegative() {
		return invariantf("order %d: negative remaining %s", o.ID, o.RemainingAmount)
	}
	if o.RemainingAmount.GreaterThan(o.OriginalAmount) {
		return invariantf("order %d: remaining %s exceeds original %s", o.ID, o.RemainingAmount, o.OriginalAmount)
	}
	if o.Status == StatusCancelled {
		if o.RemainingAmount.IsZero() {
			return invariantf("order %d: cancelled with nothing remaining", o.ID)
		}
		return nil
	}
	if want := o.statusForRemaining(); o.Status != want {
		return invariantf("order %d: status %s but remaining %s of %s implies %s",
			o.ID, o.Status, o.RemainingAmount, o.OriginalAmount, want)
	}
	return nil
}

type Trade struct {
	ID            int64           `json:"id"`
	BuyerOrderID  int64           `json:"buyer_order_id"`
	SellerOrderID int64           `json:"seller_order_id"`
	Buyer         string          `json:"buyer"`
	Seller        string          `json:"seller"`
	TakerSide     Side            `json:"taker_side"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	ExecutedAt    int64           `json:"executed_at"` // logical clock tick
	CreatedAt     time.Time       `json:"created_at"`
}

// MakerOrderID returns the id of the resting side of the trade.
func (t Trade) MakerOrderID() int64 {
	if t.TakerSide == SideBuy {
		return t.SellerOrderID
	}
	return t.BuyerOrderID
}

// TakerOrderID returns the id of the aggressing side of the trade.
func (t Trade) TakerOrderID() int64 {
	if t.TakerSide == SideBuy {
		return t.BuyerOrderID
	}
	return t.SellerOrderID
}

// Notional is amount times price.
func (t Trade) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}
