package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

// Store is the Postgres engine.OrderStore. Each Persist call is one
// transaction.
type Store struct {
	pool    *pgxpool.Pool
	queries *Queries
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: New(pool)}
}

func (s *Store) Persist(ctx context.Context, orders []engine.Order, trades []engine.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	qtx := s.queries.WithTx(tx)
	// orders first: trades reference them
	for _, o := range orders {
		if _, err := qtx.UpsertOrder(ctx, UpsertOrderParams{
			ID:              o.ID,
			UserID:          o.User,
			Side:            string(o.Side),
			Mode:            string(o.Mode),
			Price:           o.Price.String(),
			OriginalAmount:  o.OriginalAmount.String(),
			RemainingAmount: o.RemainingAmount.String(),
			Status:          string(o.Status),
			SubmittedAt:     o.SubmittedAt,
			LastSeq:         o.LastSeq,
			CreatedAt:       o.CreatedAt,
		}); err != nil {
			return fmt.Errorf("upsert order %d: %w", o.ID, err)
		}
	}
	for _, tr := range trades {
		if _, err := qtx.InsertTrade(ctx, InsertTradeParams{
			ID:            tr.ID,
			BuyerOrderID:  tr.BuyerOrderID,
			SellerOrderID: tr.SellerOrderID,
			Buyer:         tr.Buyer,
			Seller:        tr.Seller,
			TakerSide:     string(tr.TakerSide),
			Amount:        tr.Amount.String(),
			Price:         tr.Price.String(),
			ExecutedAt:    tr.ExecutedAt,
			CreatedAt:     tr.CreatedAt,
		}); err != nil {
			return fmt.Errorf("insert trade %d: %w", tr.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// LoadOrders returns every order with its trade ids rebuilt from the trades
// table.
func (s *Store) LoadOrders(ctx context.Context) ([]engine.Order, error) {
	var out []engine.Order
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		q := s.queries.WithTx(tx)
		rows, err := q.ListOrders(ctx)
		if err != nil {
			return err
		}
		trades, err := q.ListTrades(ctx)
		if err != nil {
			return err
		}

		tradeIDs := make(map[int64][]int64)
		for _, tr := range trades {
			tradeIDs[tr.BuyerOrderID] = append(tradeIDs[tr.BuyerOrderID], tr.ID)
			tradeIDs[tr.SellerOrderID] = append(tradeIDs[tr.SellerOrderID], tr.ID)
		}

		out = make([]engine.Order, 0, len(rows))
		for _, r := range rows {
			o, err := orderFromRow(r)
			if err != nil {
				return err
			}
			o.TradeIDs = tradeIDs[o.ID]
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

func (s *Store) LoadTrades(ctx context.Context) ([]engine.Trade, error) {
	rows, err := s.queries.ListTrades(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Trade, 0, len(rows))
	for _, r := range rows {
		tr, err := tradeFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func orderFromRow(r OrderRow) (engine.Order, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return engine.Order{}, fmt.Errorf("order %d price: %w", r.ID, err)
	}
	original, err := decimal.NewFromString(r.OriginalAmount)
	if err != nil {
		return engine.Order{}, fmt.Errorf("order %d original_amount: %w", r.ID, err)
	}
	remaining, err := decimal.NewFromString(r.RemainingAmount)
	if err != nil {
		return engine.Order{}, fmt.Errorf("order %d remaining_amount: %w", r.ID, err)
	}
	return engine.Order{
		ID:              r.ID,
		User:            r.UserID,
		Side:            engine.Side(r.Side),
		Mode:            engine.Mode(r.Mode),
		Price:           price,
		OriginalAmount:  original,
		RemainingAmount: remaining,
		Status:          engine.Status(r.Status),
		SubmittedAt:     r.SubmittedAt,
		LastSeq:         r.LastSeq,
		CreatedAt:       r.CreatedAt.UTC(),
	}, nil
}

func tradeFromRow(r TradeRow) (engine.Trade, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return engine.Trade{}, fmt.Errorf("trade %d amount: %w", r.ID, err)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return engine.Trade{}, fmt.Errorf("trade %d price: %w", r.ID, err)
	}
	return engine.Trade{
		ID:            r.ID,
		BuyerOrderID:  r.BuyerOrderID,
		SellerOrderID: r.SellerOrderID,
		Buyer:         r.Buyer,
		Seller:        r.Seller,
		TakerSide:     engine.Side(r.TakerSide),
		Amount:        amount,
		Price:         price,
		ExecutedAt:    r.ExecutedAt,
		CreatedAt:     r.CreatedAt.UTC(),
	}, nil
}
