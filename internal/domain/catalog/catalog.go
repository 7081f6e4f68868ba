// Package catalog holds the items sellers list on the marketplace.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/caremeds/internal/domain/fault"
)

// DefaultImage is used when an item is listed without a picture.
const DefaultImage = "placeholder.jpg"

// MaxSpiceLevel is the hottest spice level an item may declare.
const MaxSpiceLevel = 3

var (
	// ErrNotFound is returned when a requested item does not exist.
	ErrNotFound error = fault.New(fault.KindNotFound, "catalog item not found")
	// ErrNotOwner is returned when a seller acts on another seller's item.
	ErrNotOwner error = fault.New(fault.KindAuthorization, "item belongs to another seller")
)

// Item is a listable product owned by one seller.
type Item struct {
	ID          string
	SellerID    string
	StoreName   string
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
	Category    string
	Image       string
	Attributes  Attributes
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Attributes are optional properties shown by food-oriented clients.
type Attributes struct {
	PreparationMinutes int
	Vegetarian         bool
	SpiceLevel         int
}

// NewItem is the seller-supplied part of an item at creation.
type NewItem struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
	Category    string
	Image       string
	Attributes  Attributes
}

// ItemPatch carries a partial update. Nil fields are left unchanged.
type ItemPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Quantity    *int
	Category    *string
	Image       *string
	Attributes  *Attributes
}

// Apply merges the non-nil fields of p into it.
func (p ItemPatch) Apply(it *Item) {
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Price != nil {
		it.Price = *p.Price
	}
	if p.Quantity != nil {
		it.Quantity = *p.Quantity
	}
	if p.Category != nil {
		it.Category = *p.Category
	}
	if p.Image != nil {
		it.Image = *p.Image
	}
	if p.Attributes != nil {
		it.Attributes = *p.Attributes
	}
}

// Validate checks the invariants every stored item must satisfy.
func (it *Item) Validate() error {
	switch {
	case strings.TrimSpace(it.Name) == "":
		return fault.Validation("name is required")
	case strings.TrimSpace(it.Description) == "":
		return fault.Validation("description is required")
	case strings.TrimSpace(it.Category) == "":
		return fault.Validation("category is required")
	case it.Price.IsNegative():
		return fault.Validation("price must not be negative")
	case it.Quantity < 0:
		return fault.Validation("quantity must not be negative")
	case it.Attributes.PreparationMinutes < 0:
		return fault.Validation("preparation time must not be negative")
	case it.Attributes.SpiceLevel < 0 || it.Attributes.SpiceLevel > MaxSpiceLevel:
		return fault.Validation("spice level must be between 0 and %d", MaxSpiceLevel)
	}
	return nil
}

// Query narrows a listing.
type Query struct {
	SellerID string
	Criteria Criteria
}

// Repository defines persistence operations for catalog items.
type Repository interface {
	Create(ctx context.Context, it *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	// Update loads the item, lets fn modify it and stores the result in one
	// step, so stock sold in between is not written back. An error from fn
	// leaves the item unchanged and is returned as is.
	Update(ctx context.Context, id string, fn func(*Item) error) (*Item, error)
	Delete(ctx context.Context, id string) error
	// List returns items ordered by creation time. An empty sellerID lists
	// every seller.
	List(ctx context.Context, sellerID string) ([]Item, error)
}
