package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderAccepted EventType = "order.accepted"
	EventOrderStatus   EventType = "order.status_changed"
	EventTradeExecuted EventType = "trade.executed"
)

// Event is one observable fact about the market. Events are emitted after
// their batch was persisted or journaled and never feed back into matching.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Seq        int64           `json:"seq"`
	OrderID    int64           `json:"order_id,omitempty"`
	TradeID    int64           `json:"trade_id,omitempty"`
	User       string          `json:"user,omitempty"`
	Side       Side            `json:"side,omitempty"`
	Status     Status          `json:"status,omitempty"`
	PrevStatus Status          `json:"prev_status,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	At         time.Time       `json:"at"`
}

// Key is the partitioning key used by streaming publishers.
func (ev Event) Key() int64 {
	if ev.Type == EventTradeExecuted {
		return ev.TradeID
	}
	return ev.OrderID
}

type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events []Event) error

func (f PublisherFunc) Publish(ctx context.Context, events []Event) error { return f(ctx, events) }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, []Event) error { return nil }

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func acceptedEvent(seq int64, o Order, at time.Time) Event {
	return Event{
		ID:      newEventID(),
		Type:    EventOrderAccepted,
		Seq:     seq,
		OrderID: o.ID,
		User:    o.User,
		Side:    o.Side,
		Status:  StatusOpen,
		Amount:  o.OriginalAmount,
		Price:   o.Price,
		At:      at,
	}
}

func tradeEvent(seq int64, t Trade) Event {
	return Event{
		ID:      newEventID(),
		Type:    EventTradeExecuted,
		Seq:     seq,
		OrderID: t.TakerOrderID(),
		TradeID: t.ID,
		Side:    t.TakerSide,
		Amount:  t.Amount,
		Price:   t.Price,
		At:      t.CreatedAt,
	}
}

func statusEvent(seq int64, c statusChange, at time.Time) Event {
	return Event{
		ID:         newEventID(),
		Type:       EventOrderStatus,
		Seq:        seq,
		OrderID:    c.order.ID,
		User:       c.order.User,
		Side:       c.order.Side,
		Status:     c.order.Status,
		PrevStatus: c.from,
		Amount:     c.order.RemainingAmount,
		Price:      c.order.Price,
		At:         at,
	}
}
