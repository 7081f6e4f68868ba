// Package order implements order placement and fulfilment.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/caremeds/internal/domain/catalog"
)

// Order is a placed order. Lines and money are fixed at placement; only
// Status and UpdatedAt change afterwards.
type Order struct {
	ID              string
	BuyerID         string
	SellerID        string
	Lines           []Line
	Status          Status
	PaymentMethod   PaymentMethod
	Subtotal        decimal.Decimal
	DeliveryFee     decimal.Decimal
	Total           decimal.Decimal
	Commission      decimal.Decimal
	DeliveryAddress string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Line is a snapshot of an ordered item at placement time.
type Line struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Amount returns price × quantity.
func (l Line) Amount() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PaymentMethod is how the buyer settles the order.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentElectronic PaymentMethod = "electronic"
)

// ParsePaymentMethod accepts the wire names of payment methods. "upi" is
// treated as electronic.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch s {
	case "cash":
		return PaymentCash, true
	case "electronic", "upi":
		return PaymentElectronic, true
	default:
		return "", false
	}
}

// Query selects orders. Empty fields match all.
type Query struct {
	BuyerID  string
	SellerID string
	Status   Status
}

// Tx is the transactional view of storage used during placement.
type Tx interface {
	Item(ctx context.Context, id string) (*catalog.Item, error)
	// DecrementStock subtracts qty only if at least qty units remain and
	// returns ErrStockUnavailable otherwise.
	DecrementStock(ctx context.Context, itemID string, qty int) error
	CreateOrder(ctx context.Context, o *Order) error
}

// Store persists orders.
type Store interface {
	// WithinTx runs fn in a single transaction, committing when fn returns
	// nil and rolling back every change otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id string) (*Order, error)
	// List returns matching orders, newest first.
	List(ctx context.Context, q Query) ([]Order, error)
	// UpdateStatus sets the status only if it still equals from, returning
	// ErrConflict otherwise.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
}

// IdempotencyGuard records client request keys so retries are not placed twice.
type IdempotencyGuard interface {
	// Claim reports false if key was already claimed.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
