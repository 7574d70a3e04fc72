package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Recover rebuilds the book from the store and the fallback journal. It must
// be called before Run. Resting orders go back in by their original
// SubmittedAt. Ids, the logical clock and the batch sequence resume after
// the highest value seen. Market orders left live by a crash are cancelled
// and the cancellation is persisted before Recover returns.
func (e *Engine) Recover(ctx context.Context) error {
	if e.running.Load() {
		return errors.New("recover must run before the engine starts")
	}
	store := e.ledger.store
	if store == nil {
		return nil
	}

	orders, err := store.LoadOrders(ctx)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	trades, err := store.LoadTrades(ctx)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	orders, trades, highSeq, err := e.foldJournal(orders, trades)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].SubmittedAt != orders[j].SubmittedAt {
			return orders[i].SubmittedAt < orders[j].SubmittedAt
		}
		return orders[i].ID < orders[j].ID
	})
	sort.Slice(trades, func(i, j int) bool { return trades[i].ID < trades[j].ID })

	seq := e.matcher.seq
	var stale changeLog
	for i := range orders {
		o := orders[i].Snapshot()
		p := &o
		e.orders[p.ID] = p
		e.byUser[p.User] = append(e.byUser[p.User], p.ID)
		seq.lastOrderID = max(seq.lastOrderID, p.ID)
		seq.clock = max(seq.clock, p.SubmittedAt)
		highSeq = max(highSeq, p.LastSeq)

		if p.Status.Terminal() {
			continue
		}
		if p.IsMarket() {
			// a market order caught mid-flight never rests
			e.log.Warn("recovered live market order, cancelling remainder", "order_id", p.ID)
			if err := stale.move(p, StatusCancelled); err != nil {
				return err
			}
			continue
		}
		if err := p.checkInvariants(); err != nil {
			return err
		}
		if err := e.book.Insert(p); err != nil {
			return err
		}
	}
	for _, t := range trades {
		seq.lastTradeID = max(seq.lastTradeID, t.ID)
		seq.clock = max(seq.clock, t.ExecutedAt)
	}
	e.commitSeq = highSeq
	e.ledger.restore(trades)
	e.observeBook()

	if len(stale) > 0 {
		e.cancelStale(ctx, stale)
	}

	if _, err := e.ledger.Reconcile(ctx); err != nil {
		e.log.Warn("journal reconciliation deferred", "error", err)
	}
	e.log.Info("engine recovered",
		"orders", len(orders), "resting", e.book.Len(), "trades", len(trades),
		"clock", seq.clock, "seq", e.commitSeq)
	return nil
}

// cancelStale writes the recovery cancellations as one batch through the
// ledger, so they are persisted or journaled and their status events go out.
func (e *Engine) cancelStale(ctx context.Context, changes changeLog) {
	e.commitSeq++
	b := Batch{Seq: e.commitSeq}
	now := e.now().UTC()
	for _, c := range changes {
		e.orders[c.order.ID].LastSeq = b.Seq
		c.order.LastSeq = b.Seq
		b.Orders = append(b.Orders, c.order)
		b.Events = append(b.Events, statusEvent(b.Seq, c, now))
	}
	e.ledger.flush(ctx, pending{batch: b})
}

// foldJournal merges batches that only made it to the journal. It also
// returns the highest batch sequence journaled.
func (e *Engine) foldJournal(orders []Order, trades []Trade) ([]Order, []Trade, int64, error) {
	j := e.ledger.journal
	if j == nil {
		return orders, trades, 0, nil
	}

	byID := make(map[int64]Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	seen := make(map[int64]bool, len(trades))
	for _, t := range trades {
		seen[t.ID] = true
	}

	var highSeq int64
	err := j.Scan(func(entry JournalEntry) error {
		highSeq = max(highSeq, entry.Seq)
		for _, o := range entry.Orders {
			if cur, ok := byID[o.ID]; !ok || MergeOrder(cur, o) {
				byID[o.ID] = o
			}
		}
		for _, t := range entry.Trades {
			if !seen[t.ID] {
				seen[t.ID] = true
				trades = append(trades, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, 0, err
	}

	orders = orders[:0]
	for _, o := range byID {
		orders = append(orders, o)
	}
	return orders, trades, highSeq, nil
}
