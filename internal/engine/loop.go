package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/hakimelghazi/energy-exchange/internal/metrics"
)

type Options struct {
	Store     OrderStore
	Journal   Journal
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	QueueSize int
	Ledger    LedgerConfig
	Now       func() time.Time
}

// Engine owns the order book. Every command runs to completion on the loop
// goroutine before the next one is taken off the queue.
type Engine struct {
	book    *OrderBook
	matcher *Matcher
	ledger  *Ledger
	cmds    chan Command
	done    chan struct{}

	// every accepted order; live ones are shared with the book
	orders map[int64]*Order
	byUser map[string][]int64

	// batch sequence; resumed by Recover from the highest LastSeq stored
	commitSeq int64
	running   atomic.Bool

	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(opts Options) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger.With("component", "engine")

	book := NewOrderBook()
	m := NewMatcher(book)
	m.now = opts.Now
	return &Engine{
		book:    book,
		matcher: m,
		ledger:  NewLedger(opts.Store, opts.Journal, opts.Publisher, log.With("component", "ledger"), opts.Metrics, opts.Ledger),
		cmds:    make(chan Command, opts.QueueSize),
		done:    make(chan struct{}),
		orders:  make(map[int64]*Order),
		byUser:  make(map[string][]int64),
		log:     log,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Run drives the engine until ctx is cancelled. Batches already committed
// are flushed to the store before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer close(e.done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.ledger.Run(gctx) })
	g.Go(func() error {
		defer e.ledger.close()
		e.loop(gctx)
		return nil
	})
	return g.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case cmd := <-e.cmds:
			switch cmd.Type {

			case CmdPlace:
				e.place(cmd)

			case CmdCancel:
				e.cancel(cmd)

			case CmdOpenOrders:
				cmd.Resp <- reply{value: e.book.Orders()}

			case CmdUserOrders:
				cmd.Resp <- reply{value: e.userOrders(cmd.User)}

			case CmdGetOrder:
				o, ok := e.orders[cmd.ID]
				if !ok {
					cmd.Resp <- reply{err: &OrderError{OrderID: cmd.ID, Code: CodeNotFound}}
					continue
				}
				cmd.Resp <- reply{value: o.Snapshot()}

			case CmdDepth:
				cmd.Resp <- reply{value: Depth{
					Bids: e.book.Depth(SideBuy, cmd.Levels),
					Asks: e.book.Depth(SideSell, cmd.Levels),
				}}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) place(cmd Command) {
	start := time.Now()
	res, err := e.matcher.Submit(cmd.Spec)
	e.metrics.ObserveMatch(time.Since(start))
	if err != nil {
		// the plan is checked before mutation, so the book is intact
		e.metrics.Rejected("invariant")
		e.log.Error("submission aborted", "user", cmd.Spec.user, "error", err)
		cmd.Resp <- reply{err: err}
		return
	}

	o := res.order
	e.orders[o.ID] = o
	e.byUser[o.User] = append(e.byUser[o.User], o.ID)
	e.metrics.Submitted(string(o.Side), string(o.Mode))
	for _, tr := range res.Trades {
		e.metrics.Traded(tr.Amount.InexactFloat64())
	}
	e.observeBook()

	e.commitSeq++
	seq := e.commitSeq
	for i := range res.touched {
		res.touched[i].LastSeq = seq
		e.orders[res.touched[i].ID].LastSeq = seq
	}
	res.Order.LastSeq = seq
	now := e.now().UTC()
	events := make([]Event, 0, 1+len(res.Trades)+len(res.changes))
	events = append(events, acceptedEvent(seq, res.Order, o.CreatedAt))
	for _, tr := range res.Trades {
		events = append(events, tradeEvent(seq, tr))
	}
	for _, c := range res.changes {
		events = append(events, statusEvent(seq, c, now))
	}

	e.ledger.Record(Batch{Seq: seq, Orders: res.touched, Trades: res.Trades, Events: events}, func() {
		cmd.Resp <- reply{value: res}
	})
}

// CancelResult reports the state of a cancelled order.
type CancelResult struct {
	OrderID  int64           `json:"order_id"`
	Status   Status          `json:"status"`
	Unfilled decimal.Decimal `json:"unfilled"`
}

func (e *Engine) cancel(cmd Command) {
	o, ok := e.orders[cmd.ID]
	if !ok {
		cmd.Resp <- reply{err: &OrderError{OrderID: cmd.ID, Code: CodeNotFound}}
		return
	}
	if o.User != cmd.User {
		cmd.Resp <- reply{err: &OrderError{OrderID: cmd.ID, Code: CodeNotOwner}}
		return
	}
	switch o.Status {
	case StatusCompleted:
		cmd.Resp <- reply{err: &OrderError{OrderID: cmd.ID, Code: CodeAlreadyFilled}}
		return
	case StatusCancelled:
		cmd.Resp <- reply{err: &OrderError{OrderID: cmd.ID, Code: CodeAlreadyCancelled}}
		return
	}

	if _, ok := e.book.Remove(o.ID); !ok {
		err := invariantf("live order %d is not resting", o.ID)
		e.log.Error("cancel aborted", "order_id", o.ID, "error", err)
		cmd.Resp <- reply{err: err}
		return
	}
	var changes changeLog
	if err := changes.move(o, StatusCancelled); err != nil {
		// put it back where it was; SubmittedAt keeps its queue position
		_ = e.book.Insert(o)
		e.log.Error("cancel aborted", "order_id", o.ID, "error", err)
		cmd.Resp <- reply{err: err}
		return
	}
	e.metrics.Cancelled()
	e.observeBook()

	e.commitSeq++
	seq := e.commitSeq
	o.LastSeq = seq
	snap := o.Snapshot()
	events := []Event{statusEvent(seq, changes[0], e.now().UTC())}
	res := &CancelResult{OrderID: o.ID, Status: o.Status, Unfilled: snap.RemainingAmount}

	e.ledger.Record(Batch{Seq: seq, Orders: []Order{snap}, Events: events}, func() {
		cmd.Resp <- reply{value: res}
	})
}

func (e *Engine) userOrders(user string) []Order {
	ids := e.byUser[user]
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.orders[id].Snapshot())
	}
	return out
}

func (e *Engine) observeBook() {
	e.metrics.Resting(string(SideBuy), e.book.SideLen(SideBuy))
	e.metrics.Resting(string(SideSell), e.book.SideLen(SideSell))
}
