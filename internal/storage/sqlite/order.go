package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/order"
	"github.com/xenking/caremeds/internal/domain/report"
)

const (
	orderColumns = `id, buyer_id, seller_id, lines, status, payment_method, subtotal, delivery_fee,
		total, commission, delivery_address, created_at, updated_at`

	decrementStockSQL = `UPDATE catalog_items SET quantity = quantity - ?2
		WHERE id = ?1 AND quantity >= ?2`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE (?1 = '' OR buyer_id = ?1)
		  AND (?2 = '' OR seller_id = ?2)
		  AND (?3 = '' OR status = ?3)
		ORDER BY created_at DESC, id DESC`

	updateStatusSQL = `UPDATE orders SET status = ?3, updated_at = ?4
		WHERE id = ?1 AND status = ?2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = ?)`

	// Money is summed in Go; SQLite would sum TEXT columns as floats.
	summarizeOrdersSQL = `SELECT status, total, commission FROM orders
		WHERE ?1 = '' OR seller_id = ?1`
)

var (
	_ order.Store            = (*OrderStore)(nil)
	_ report.OrderSummarizer = (*OrderStore)(nil)
)

// OrderStore implements order.Store backed by SQLite.
type OrderStore struct {
	db *sql.DB
}

type orderTx struct {
	tx *sql.Tx
}

func (t orderTx) Item(ctx context.Context, id string) (*catalog.Item, error) {
	return getItem(ctx, t.tx, id)
}

func (t orderTx) DecrementStock(ctx context.Context, id string, qty int) error {
	res, err := t.tx.ExecContext(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", id, err)
	}
	return requireOneRow(res, order.ErrStockUnavailable)
}

func (t orderTx) CreateOrder(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, createOrderSQL,
		o.ID, o.BuyerID, o.SellerID, string(linesJSON), string(o.Status), string(o.PaymentMethod),
		o.Subtotal.String(), o.DeliveryFee.String(), o.Total.String(), o.Commission.String(),
		o.DeliveryAddress, toUnix(o.CreatedAt), toUnix(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// WithinTx runs fn in a database transaction.
func (s *OrderStore) WithinTx(ctx context.Context, fn func(context.Context, order.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(ctx, orderTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, getOrderSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

func (s *OrderStore) List(ctx context.Context, q order.Query) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, listOrdersSQL, q.BuyerID, q.SellerID, string(q.Status))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	orders := make([]order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx, updateStatusSQL, id, string(from), string(to), toUnix(at))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConflict
}

func (s *OrderStore) Summarize(ctx context.Context, sellerID string) (report.Summary, error) {
	rows, err := s.db.QueryContext(ctx, summarizeOrdersSQL, sellerID)
	if err != nil {
		return report.Summary{}, fmt.Errorf("summarizing orders: %w", err)
	}
	defer rows.Close()

	sum := report.Summary{ByStatus: make(map[order.Status]int)}
	for rows.Next() {
		var (
			status            string
			total, commission decimal.Decimal
		)
		if err := rows.Scan(&status, &total, &commission); err != nil {
			return report.Summary{}, fmt.Errorf("scanning order summary: %w", err)
		}
		sum.ByStatus[order.Status(status)]++
		sum.Orders++
		sum.Sales = sum.Sales.Add(total)
		sum.Commission = sum.Commission.Add(commission)
	}
	if err := rows.Err(); err != nil {
		return report.Summary{}, fmt.Errorf("summarizing orders: %w", err)
	}
	return sum, nil
}

func scanOrder(row scanner) (order.Order, error) {
	var (
		o                order.Order
		linesJSON        string
		status, method   string
		created, updated int64
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &linesJSON, &status, &method, &o.Subtotal,
		&o.DeliveryFee, &o.Total, &o.Commission, &o.DeliveryAddress, &created, &updated,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal([]byte(linesJSON), &o.Lines); err != nil {
		return o, fmt.Errorf("unmarshaling order lines: %w", err)
	}
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	o.CreatedAt = fromUnix(created)
	o.UpdatedAt = fromUnix(updated)
	return o, nil
}
