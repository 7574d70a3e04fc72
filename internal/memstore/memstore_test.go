package memstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

func order(id int64, remaining string, status engine.Status, trades ...int64) engine.Order {
	return engine.Order{
		ID:              id,
		User:            "alice",
		Side:            engine.SideSell,
		Mode:            engine.ModeLimit,
		Price:           decimal.NewFromInt(10),
		OriginalAmount:  decimal.NewFromInt(10),
		RemainingAmount: decimal.RequireFromString(remaining),
		Status:          status,
		TradeIDs:        trades,
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	tr := engine.Trade{ID: 1, Amount: decimal.NewFromInt(4), Price: decimal.NewFromInt(10)}
	batch := []engine.Order{order(1, "6", engine.StatusPartial, 1)}
	require.NoError(t, s.Persist(ctx, batch, []engine.Trade{tr}))
	require.NoError(t, s.Persist(ctx, batch, []engine.Trade{tr}))

	orders, err := s.LoadOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, engine.StatusPartial, orders[0].Status)

	trades, err := s.LoadTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestPersistIgnoresStaleSnapshots(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Persist(ctx, []engine.Order{order(1, "0", engine.StatusCompleted, 1, 2)}, nil))
	// an older snapshot replayed from the journal
	require.NoError(t, s.Persist(ctx, []engine.Order{order(1, "6", engine.StatusPartial, 1)}, nil))

	orders, err := s.LoadOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, orders[0].Status)
	assert.True(t, orders[0].RemainingAmount.IsZero())
	assert.Equal(t, []int64{1, 2}, orders[0].TradeIDs)
}

func TestPersistKeepsNewestSequence(t *testing.T) {
	ctx := context.Background()
	s := New()

	newer := order(1, "6", engine.StatusPartial, 1)
	newer.LastSeq = 5
	older := order(1, "6", engine.StatusPartial, 1)
	older.LastSeq = 4
	assert.False(t, engine.MergeOrder(newer, older))

	require.NoError(t, s.Persist(ctx, []engine.Order{newer}, nil))
	require.NoError(t, s.Persist(ctx, []engine.Order{older}, nil))

	orders, err := s.LoadOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), orders[0].LastSeq)
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.FailNext(2)
	assert.ErrorIs(t, s.Persist(ctx, []engine.Order{order(1, "10", engine.StatusOpen)}, nil), ErrInjected)
	assert.ErrorIs(t, s.Persist(ctx, []engine.Order{order(1, "10", engine.StatusOpen)}, nil), ErrInjected)
	assert.NoError(t, s.Persist(ctx, []engine.Order{order(1, "10", engine.StatusOpen)}, nil))
	assert.Equal(t, 3, s.Persists())

	boom := assert.AnError
	s.SetErr(boom)
	assert.ErrorIs(t, s.Persist(ctx, nil, nil), boom)
	s.SetErr(nil)
	assert.NoError(t, s.Persist(ctx, nil, nil))
}

func TestLoadHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().LoadOrders(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
