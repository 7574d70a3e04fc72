package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/hakimelghazi/energy-exchange/internal/metrics"
)

type LedgerConfig struct {
	MaxAttempts       int
	AttemptTimeout    time.Duration // bounds each store call
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	ReconcileInterval time.Duration // 0 disables periodic reconciliation
	QueueSize         int
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 500 * time.Millisecond
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

type pending struct {
	batch Batch
	done  func()
}

// Ledger is the append-only sink for committed batches. It keeps the
// in-memory trade history and persists batches in commit order on its own
// goroutine, falling back to the journal when the store keeps failing.
type Ledger struct {
	store     OrderStore
	journal   Journal
	publisher Publisher
	log       *slog.Logger
	metrics   *metrics.Metrics
	cfg       LedgerConfig

	queue chan pending

	// set after a batch fell back to the journal; cleared by the next
	// successful store write
	degraded atomic.Bool

	mu      sync.RWMutex
	history []Trade
}

func NewLedger(store OrderStore, journal Journal, pub Publisher, log *slog.Logger, m *metrics.Metrics, cfg LedgerConfig) *Ledger {
	cfg = cfg.withDefaults()
	if pub == nil {
		pub = nopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		store:     store,
		journal:   journal,
		publisher: pub,
		log:       log,
		metrics:   m,
		cfg:       cfg,
		queue:     make(chan pending, cfg.QueueSize),
	}
}

// Record appends the batch's trades to the history and queues it for
// persistence. done runs once the batch is persisted or journaled.
// Must be called from a single goroutine.
func (l *Ledger) Record(b Batch, done func()) {
	if len(b.Trades) > 0 {
		l.mu.Lock()
		l.history = append(l.history, b.Trades...)
		l.mu.Unlock()
	}
	l.queue <- pending{batch: b, done: done}
}

// History returns every trade in execution order.
func (l *Ledger) History() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Trade(nil), l.history...)
}

func (l *Ledger) restore(trades []Trade) {
	l.mu.Lock()
	l.history = append([]Trade(nil), trades...)
	l.mu.Unlock()
}

// close stops Run once the queue is drained.
func (l *Ledger) close() { close(l.queue) }

// Run persists queued batches until close is called. Cancelling ctx does not
// drop queued batches: they are still flushed before Run returns.
func (l *Ledger) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if l.cfg.ReconcileInterval > 0 && l.journal != nil {
		t := time.NewTicker(l.cfg.ReconcileInterval)
		defer t.Stop()
		tick = t.C
	}

	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case p, ok := <-l.queue:
			if !ok {
				return nil
			}
			l.flush(flushCtx, p)
		case <-tick:
			if ctx.Err() != nil {
				continue
			}
			if _, err := l.Reconcile(ctx); err != nil {
				l.log.Warn("journal reconciliation failed", "error", err)
			}
		}
	}
}

func (l *Ledger) flush(ctx context.Context, p pending) {
	defer func() {
		if p.done != nil {
			p.done()
		}
	}()

	if err := l.persist(ctx, p.batch.Orders, p.batch.Trades); err != nil {
		l.fallback(p.batch, err)
	}

	if len(p.batch.Events) > 0 {
		if err := l.publisher.Publish(ctx, p.batch.Events); err != nil {
			l.metrics.EventDropped(len(p.batch.Events))
			l.log.Warn("publish events failed", "seq", p.batch.Seq, "events", len(p.batch.Events), "error", err)
		}
	}
}

func (l *Ledger) persist(ctx context.Context, orders []Order, trades []Trade) error {
	if l.store == nil {
		return nil
	}
	tries := l.cfg.MaxAttempts
	if l.degraded.Load() {
		// the store was down for the last batch: one probe, then journal
		tries = 1
	}
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		return struct{}{}, l.storeCall(ctx, orders, trades)
	}
	notify := func(err error, wait time.Duration) {
		l.metrics.StoreRetry()
		l.log.Warn("persist failed, retrying", "attempt", attempts, "wait", wait, "error", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.InitialBackoff
	bo.MaxInterval = l.cfg.MaxBackoff

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		l.degraded.Store(true)
		return &StoreError{Op: "persist", Attempts: attempts, Err: err}
	}
	if l.degraded.Swap(false) {
		l.log.Info("store recovered")
	}
	return nil
}

// storeCall runs one Persist under the per-attempt deadline so a hung
// connection fails over instead of stalling the queue.
func (l *Ledger) storeCall(ctx context.Context, orders []Order, trades []Trade) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.AttemptTimeout)
	defer cancel()
	return l.store.Persist(ctx, orders, trades)
}

// fallback writes a batch the store refused to the journal. The trades
// happened; only durability is degraded.
func (l *Ledger) fallback(b Batch, cause error) {
	entry := JournalEntry{
		ID:         journalID(),
		Seq:        b.Seq,
		Orders:     b.Orders,
		Trades:     b.Trades,
		Reason:     cause.Error(),
		RecordedAt: time.Now().UTC(),
	}

	if l.journal != nil {
		err := l.journal.Append(entry)
		if err == nil {
			l.metrics.JournalFallback()
			l.log.Error("store unavailable, batch journaled for reconciliation",
				"seq", b.Seq, "journal_id", entry.ID, "orders", len(b.Orders), "trades", len(b.Trades), "error", cause)
			return
		}
		cause = errors.Join(cause, err)
	}

	// last resort: the log line carries the whole batch
	l.metrics.BatchLost()
	raw, _ := json.Marshal(entry)
	l.log.Error("batch not durable", "seq", b.Seq, "error", cause, "batch", string(raw))
}

// Reconcile re-persists journaled batches and deletes the ones the store
// accepted. It returns how many were reconciled.
func (l *Ledger) Reconcile(ctx context.Context) (int, error) {
	if l.journal == nil || l.store == nil {
		return 0, nil
	}

	var entries []JournalEntry
	if err := l.journal.Scan(func(e JournalEntry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		return 0, err
	}

	n := 0
	for _, e := range entries {
		if err := l.storeCall(ctx, e.Orders, e.Trades); err != nil {
			return n, &StoreError{Op: "reconcile", Attempts: 1, Err: err}
		}
		if err := l.journal.Delete(e.ID); err != nil {
			return n, err
		}
		n++
		l.metrics.ReconciledBatch()
	}
	if n > 0 {
		l.degraded.Store(false)
		l.log.Info("journal reconciled", "batches", n)
	}
	return n, nil
}

// journalID is time ordered so journal keys sort oldest first.
func journalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
