package pricefeed

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

// QuoteSource is anything that can report aggregated book depth. The engine
// is one.
type QuoteSource interface {
	BookDepth(ctx context.Context, levels int) (engine.Depth, error)
}

// StartQuoteUpdater periodically refreshes the top of book in cache until
// ctx is cancelled.
func StartQuoteUpdater(
	ctx context.Context,
	src QuoteSource,
	cache *PriceCache,
	interval time.Duration,
	log *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refreshOnce(ctx, src, cache, log)

	for {
		select {
		case <-ticker.C:
			refreshOnce(ctx, src, cache, log)
		case <-ctx.Done():
			return
		}
	}
}

func refreshOnce(ctx context.Context, src QuoteSource, cache *PriceCache, log *slog.Logger) {
	depth, err := src.BookDepth(ctx, 1)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("quote update failed", "error", err)
		}
		return
	}
	var bid, ask decimal.NullDecimal
	if len(depth.Bids) > 0 {
		bid = decimal.NewNullDecimal(depth.Bids[0].Price)
	}
	if len(depth.Asks) > 0 {
		ask = decimal.NewNullDecimal(depth.Asks[0].Price)
	}
	cache.SetQuote(bid, ask)
	log.Debug("quote update", "bid", bid, "ask", ask)
}
