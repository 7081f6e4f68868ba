package order

import (
	"fmt"

	"github.com/xenking/caremeds/internal/domain/fault"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound error = fault.New(fault.KindNotFound, "order not found")
	// ErrConflict is returned when an order changed between read and update.
	ErrConflict error = fault.New(fault.KindConflict, "order was modified concurrently")
	// ErrDuplicateRequest is returned when an idempotency key is replayed.
	ErrDuplicateRequest error = fault.New(fault.KindConflict, "request already processed")
	// ErrNotParticipant is returned when the actor may not see or act on an order.
	ErrNotParticipant error = fault.New(fault.KindAuthorization, "not a participant of this order")
	// ErrStockUnavailable is returned by storage when a conditional decrement fails.
	ErrStockUnavailable error = fault.New(fault.KindInsufficientStock, "insufficient stock")
)

// ItemNotFoundError indicates an order line references a missing item.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ItemID)
}

// FaultKind implements fault.Classified.
func (e *ItemNotFoundError) FaultKind() fault.Kind { return fault.KindNotFound }

// InsufficientStockError indicates a line asks for more units than are available.
type InsufficientStockError struct {
	ItemID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d",
		e.ItemID, e.Requested, e.Available)
}

// FaultKind implements fault.Classified.
func (e *InsufficientStockError) FaultKind() fault.Kind { return fault.KindInsufficientStock }

// Unwrap lets errors.Is match ErrStockUnavailable.
func (e *InsufficientStockError) Unwrap() error { return ErrStockUnavailable }

// ForeignItemError indicates a line references an item of another seller.
type ForeignItemError struct {
	ItemID   string
	SellerID string
}

func (e *ForeignItemError) Error() string {
	return fmt.Sprintf("item %s is not sold by seller %s", e.ItemID, e.SellerID)
}

// FaultKind implements fault.Classified.
func (e *ForeignItemError) FaultKind() fault.Kind { return fault.KindValidation }

// InvalidTransitionError indicates a status change outside the workflow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// FaultKind implements fault.Classified.
func (e *InvalidTransitionError) FaultKind() fault.Kind { return fault.KindInvalidTransition }
