package publish

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

// Log writes each event as a structured log line.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	return &Log{log: log.With("component", "events")}
}

func (l *Log) Publish(ctx context.Context, events []engine.Event) error {
	for _, ev := range events {
		l.log.InfoContext(ctx, string(ev.Type),
			"seq", ev.Seq,
			"order_id", ev.OrderID,
			"trade_id", ev.TradeID,
			"status", ev.Status,
			"amount", ev.Amount.String(),
			"price", ev.Price.String(),
		)
	}
	return nil
}

// Multi publishes to every publisher, even after one of them failed.
type Multi []engine.Publisher

func (m Multi) Publish(ctx context.Context, events []engine.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
