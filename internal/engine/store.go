package engine

import (
	"context"
	"time"
)

// OrderStore is the durable home of orders and trades. The engine loads from
// it once at start-up and then hands it one batch per submit or cancel.
//
// Persist must be idempotent: the ledger retries a failed batch and may replay
// journaled batches later. Order snapshots merge monotonically (see
// MergeOrder) so a stale snapshot never overwrites a newer one.
type OrderStore interface {
	LoadOrders(ctx context.Context) ([]Order, error)
	LoadTrades(ctx context.Context) ([]Trade, error)
	Persist(ctx context.Context, orders []Order, trades []Trade) error
}

// Batch is every entity one engine command mutated, plus the events it
// produced.
type Batch struct {
	Seq    int64
	Orders []Order
	Trades []Trade
	Events []Event
}

// JournalEntry is a batch the store could not take, kept for reconciliation.
type JournalEntry struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	Orders     []Order   `json:"orders"`
	Trades     []Trade   `json:"trades"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal is the fallback durable log used when the store keeps failing.
// Scan visits entries oldest first.
type Journal interface {
	Append(entry JournalEntry) error
	Scan(fn func(JournalEntry) error) error
	Delete(id string) error
}

// MergeOrder reports whether snapshot next may replace current. Remaining
// amounts only shrink and commit sequences only grow. Terminal orders never
// change again.
func MergeOrder(current, next Order) bool {
	if current.Status.Terminal() {
		return false
	}
	if next.LastSeq < current.LastSeq {
		return false
	}
	if next.RemainingAmount.GreaterThan(current.RemainingAmount) {
		return false
	}
	if next.RemainingAmount.Equal(current.RemainingAmount) && len(next.TradeIDs) < len(current.TradeIDs) {
		return false
	}
	return true
}
