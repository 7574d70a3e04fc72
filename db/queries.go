package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Amounts travel as text so NUMERIC values keep their exact scale.

const upsertOrder = `
INSERT INTO orders (
    id, user_id, side, mode, price, original_amount, remaining_amount, status, submitted_at, last_seq, created_at
) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE
SET remaining_amount = EXCLUDED.remaining_amount,
    status           = EXCLUDED.status,
    last_seq         = GREATEST(orders.last_seq, EXCLUDED.last_seq)
WHERE orders.status NOT IN ('completed', 'cancelled')
  AND EXCLUDED.remaining_amount <= orders.remaining_amount`

type UpsertOrderParams struct {
	ID              int64
	UserID          string
	Side            string
	Mode            string
	Price           string
	OriginalAmount  string
	RemainingAmount string
	Status          string
	SubmittedAt     int64
	LastSeq         int64
	CreatedAt       time.Time
}

// UpsertOrder inserts an order or advances it. Stale snapshots and updates
// to terminal orders are ignored.
func (q *Queries) UpsertOrder(ctx context.Context, arg UpsertOrderParams) (int64, error) {
	tag, err := q.db.Exec(ctx, upsertOrder,
		arg.ID,
		arg.UserID,
		arg.Side,
		arg.Mode,
		arg.Price,
		arg.OriginalAmount,
		arg.RemainingAmount,
		arg.Status,
		arg.SubmittedAt,
		arg.LastSeq,
		arg.CreatedAt,
	)
	return tag.RowsAffected(), err
}

const insertTrade = `
INSERT INTO trades (
    id, buyer_order_id, seller_order_id, buyer, seller, taker_side, amount, price, executed_at, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)
ON CONFLICT (id) DO NOTHING`

type InsertTradeParams struct {
	ID            int64
	BuyerOrderID  int64
	SellerOrderID int64
	Buyer         string
	Seller        string
	TakerSide     string
	Amount        string
	Price         string
	ExecutedAt    int64
	CreatedAt     time.Time
}

func (q *Queries) InsertTrade(ctx context.Context, arg InsertTradeParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertTrade,
		arg.ID,
		arg.BuyerOrderID,
		arg.SellerOrderID,
		arg.Buyer,
		arg.Seller,
		arg.TakerSide,
		arg.Amount,
		arg.Price,
		arg.ExecutedAt,
		arg.CreatedAt,
	)
	return tag.RowsAffected(), err
}

const listOrders = `
SELECT id, user_id, side, mode, price::text, original_amount::text, remaining_amount::text,
       status, submitted_at, last_seq, created_at
FROM orders
ORDER BY id`

type OrderRow struct {
	ID              int64
	UserID          string
	Side            string
	Mode            string
	Price           string
	OriginalAmount  string
	RemainingAmount string
	Status          string
	SubmittedAt     int64
	LastSeq         int64
	CreatedAt       time.Time
}

func (q *Queries) ListOrders(ctx context.Context) ([]OrderRow, error) {
	rows, err := q.db.Query(ctx, listOrders)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderRow
	for rows.Next() {
		var i OrderRow
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.Side,
			&i.Mode,
			&i.Price,
			&i.OriginalAmount,
			&i.RemainingAmount,
			&i.Status,
			&i.SubmittedAt,
			&i.LastSeq,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listTrades = `
SELECT id, buyer_order_id, seller_order_id, buyer, seller, taker_side, amount::text, price::text,
       executed_at, created_at
FROM trades
ORDER BY id`

type TradeRow struct {
	ID            int64
	BuyerOrderID  int64
	SellerOrderID int64
	Buyer         string
	Seller        string
	TakerSide     string
	Amount        string
	Price         string
	ExecutedAt    int64
	CreatedAt     time.Time
}

func (q *Queries) ListTrades(ctx context.Context) ([]TradeRow, error) {
	rows, err := q.db.Query(ctx, listTrades)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TradeRow
	for rows.Next() {
		var i TradeRow
		if err := rows.Scan(
			&i.ID,
			&i.BuyerOrderID,
			&i.SellerOrderID,
			&i.Buyer,
			&i.Seller,
			&i.TakerSide,
			&i.Amount,
			&i.Price,
			&i.ExecutedAt,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
