// Package memstore is an in-memory engine.OrderStore. It backs the server
// when no database is configured and doubles as a test fake with fault
// injection.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

var ErrInjected = errors.New("memstore: injected failure")

type Store struct {
	mu     sync.RWMutex
	orders map[int64]engine.Order
	trades map[int64]engine.Trade

	failNext int
	failErr  error
	persists int
}

func New() *Store {
	return &Store{
		orders: make(map[int64]engine.Order),
		trades: make(map[int64]engine.Trade),
	}
}

// FailNext makes the next n calls to Persist fail with ErrInjected.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// SetErr makes every call to Persist fail with err until it is reset with nil.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// Persists returns how many Persist calls were made, failed ones included.
func (s *Store) Persists() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persists
}

func (s *Store) LoadOrders(ctx context.Context) ([]engine.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]engine.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) LoadTrades(ctx context.Context) ([]engine.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]engine.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Persist applies the batch atomically. Snapshots older than what is stored
// are ignored and trades are keyed by id, so replays are harmless.
func (s *Store) Persist(ctx context.Context, orders []engine.Order, trades []engine.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.persists++
	if s.failErr != nil {
		return s.failErr
	}
	if s.failNext > 0 {
		s.failNext--
		return ErrInjected
	}

	for _, o := range orders {
		if cur, ok := s.orders[o.ID]; ok && !engine.MergeOrder(cur, o) {
			continue
		}
		s.orders[o.ID] = o.Snapshot()
	}
	for _, t := range trades {
		if _, ok := s.trades[t.ID]; !ok {
			s.trades[t.ID] = t
		}
	}
	return nil
}
