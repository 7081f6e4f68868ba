package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/order"
	"github.com/xenking/caremeds/internal/domain/report"
)

const (
	orderColumns = `id, buyer_id, seller_id, lines, status, payment_method, subtotal, delivery_fee,
		total, commission, delivery_address, created_at, updated_at`

	lockItemSQL = `SELECT ` + itemColumns + ` FROM catalog_items WHERE id = $1 FOR UPDATE`

	decrementStockSQL = `UPDATE catalog_items SET quantity = quantity - $2
		WHERE id = $1 AND quantity >= $2`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR buyer_id = $1)
		  AND ($2 = '' OR seller_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC`

	updateStatusSQL = `UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	summarizeOrdersSQL = `SELECT status, COUNT(*), COALESCE(SUM(total), 0), COALESCE(SUM(commission), 0)
		FROM orders
		WHERE $1 = '' OR seller_id = $1
		GROUP BY status`
)

var (
	_ order.Store            = (*OrderStore)(nil)
	_ report.OrderSummarizer = (*OrderStore)(nil)
)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

type orderTx struct {
	tx pgx.Tx
}

// Item loads and row-locks an item for the rest of the transaction.
func (t orderTx) Item(ctx context.Context, id string) (*catalog.Item, error) {
	return getItem(ctx, t.tx, lockItemSQL, id)
}

func (t orderTx) DecrementStock(ctx context.Context, id string, qty int) error {
	tag, err := t.tx.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStockUnavailable
	}
	return nil
}

// CreateOrder persists a new order. Lines are serialized to JSON for the
// JSONB column.
func (t orderTx) CreateOrder(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	_, err = t.tx.Exec(ctx, createOrderSQL,
		o.ID, o.BuyerID, o.SellerID, linesJSON, string(o.Status), string(o.PaymentMethod),
		o.Subtotal, o.DeliveryFee, o.Total, o.Commission, o.DeliveryAddress,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// WithinTx runs fn in a database transaction.
func (s *OrderStore) WithinTx(ctx context.Context, fn func(context.Context, order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, orderTx{tx: tx})
	})
}

// Get returns a single order.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := s.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// List returns matching orders, newest first.
func (s *OrderStore) List(ctx context.Context, q order.Query) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersSQL, q.BuyerID, q.SellerID, string(q.Status))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus changes the status if it still equals from.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) error {
	tag, err := s.pool.Exec(ctx, updateStatusSQL, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConflict
}

// Summarize implements report.OrderSummarizer.
func (s *OrderStore) Summarize(ctx context.Context, sellerID string) (report.Summary, error) {
	rows, err := s.pool.Query(ctx, summarizeOrdersSQL, sellerID)
	if err != nil {
		return report.Summary{}, fmt.Errorf("summarizing orders: %w", err)
	}
	defer rows.Close()

	sum := report.Summary{ByStatus: make(map[order.Status]int)}
	for rows.Next() {
		var (
			status            string
			count             int
			sales, commission decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &sales, &commission); err != nil {
			return report.Summary{}, fmt.Errorf("scanning order summary: %w", err)
		}
		sum.ByStatus[order.Status(status)] = count
		sum.Orders += count
		sum.Sales = sum.Sales.Add(sales)
		sum.Commission = sum.Commission.Add(commission)
	}
	if err := rows.Err(); err != nil {
		return report.Summary{}, fmt.Errorf("summarizing orders: %w", err)
	}
	return sum, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		linesJSON []byte
		status    string
		method    string
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &linesJSON, &status, &method, &o.Subtotal,
		&o.DeliveryFee, &o.Total, &o.Commission, &o.DeliveryAddress, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return o, fmt.Errorf("unmarshaling order lines: %w", err)
	}
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	return o, nil
}
