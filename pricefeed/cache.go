package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

// Ticker summarises the market: last execution, running volume and the
// current top of book.
type Ticker struct {
	Last        decimal.NullDecimal `json:"last"`
	LastTradeID int64               `json:"last_trade_id"`
	Volume      decimal.Decimal     `json:"volume"`
	Trades      int64               `json:"trades"`
	BestBid     decimal.NullDecimal `json:"best_bid"`
	BestAsk     decimal.NullDecimal `json:"best_ask"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// PriceCache stores the latest ticker in memory. It is an engine.Publisher
// fed with trade events.
type PriceCache struct {
	mu sync.RWMutex
	t  Ticker
}

func NewPriceCache() *PriceCache {
	return &PriceCache{}
}

// Seed initialises the cache from trade history, oldest first.
func (c *PriceCache) Seed(trades []engine.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tr := range trades {
		c.record(tr.ID, tr.Amount, tr.Price, tr.CreatedAt)
	}
}

func (c *PriceCache) Publish(_ context.Context, events []engine.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		if ev.Type != engine.EventTradeExecuted {
			continue
		}
		c.record(ev.TradeID, ev.Amount, ev.Price, ev.At)
	}
	return nil
}

func (c *PriceCache) record(id int64, amount, price decimal.Decimal, at time.Time) {
	// replays must not move the last price backwards
	if id <= c.t.LastTradeID {
		return
	}
	c.t.Last = decimal.NewNullDecimal(price)
	c.t.LastTradeID = id
	c.t.Volume = c.t.Volume.Add(amount)
	c.t.Trades++
	c.t.UpdatedAt = at
}

// SetQuote records the current best bid and ask; an empty side is null.
func (c *PriceCache) SetQuote(bid, ask decimal.NullDecimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t.BestBid = bid
	c.t.BestAsk = ask
}

func (c *PriceCache) Get() Ticker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}
