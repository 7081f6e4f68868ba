package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/fault"
)

// ItemAttributes are the food attributes of a catalog item. They are always
// present in responses, so false and 0 are real values.
type ItemAttributes struct {
	PreparationMinutes int  `json:"preparationMinutes" doc:"Preparation time in minutes"`
	Vegetarian         bool `json:"vegetarian"`
	SpiceLevel         int  `json:"spiceLevel" doc:"0 (mild) to 3 (hot)"`
}

// ItemAttributesInput is ItemAttributes in a request body; absent
// attributes read as zero.
type ItemAttributesInput struct {
	PreparationMinutes int  `json:"preparationMinutes,omitempty" doc:"Preparation time in minutes"`
	Vegetarian         bool `json:"vegetarian,omitempty"`
	SpiceLevel         int  `json:"spiceLevel,omitempty" doc:"0 (mild) to 3 (hot)"`
}

// Item is the catalog item representation.
type Item struct {
	ID          string         `json:"id"`
	SellerID    string         `json:"sellerId"`
	StoreName   string         `json:"storeName"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Price       float64        `json:"price"`
	Quantity    int            `json:"quantity"`
	Category    string         `json:"category"`
	Image       string         `json:"image"`
	Attributes  ItemAttributes `json:"attributes"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ItemInput is the body of a catalog create request. Field checks happen in
// the catalog service so every violation is reported the same way; only the
// presence of price and quantity is checked here, where absent and zero
// still differ.
type ItemInput struct {
	Name        string              `json:"name,omitempty"`
	Description string              `json:"description,omitempty"`
	Price       *float64            `json:"price,omitempty" doc:"Required"`
	Quantity    *int                `json:"quantity,omitempty" doc:"Required; 0 lists the item as sold out"`
	Category    string              `json:"category,omitempty"`
	Image       string              `json:"image,omitempty" doc:"Defaults to a placeholder image"`
	Attributes  ItemAttributesInput `json:"attributes,omitempty"`
}

// ItemPatchInput is the body of a catalog update; absent fields are kept.
type ItemPatchInput struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Price       *float64             `json:"price,omitempty"`
	Quantity    *int                 `json:"quantity,omitempty"`
	Category    *string              `json:"category,omitempty"`
	Image       *string              `json:"image,omitempty"`
	Attributes  *ItemAttributesInput `json:"attributes,omitempty"`
}

type (
	listItemsInput struct {
		Term      string `query:"q" doc:"Case-insensitive match on name or description"`
		StoreName string `query:"store" doc:"Exact store name"`
		Category  string `query:"category" doc:"Exact category"`
		SellerID  string `query:"sellerId" doc:"Only items of this seller"`
	}
	itemIDInput struct {
		ID string `path:"id"`
	}
	createItemInput struct {
		Body ItemInput
	}
	updateItemInput struct {
		ID   string `path:"id"`
		Body ItemPatchInput
	}
	itemOutput struct {
		Body Item
	}
	itemsOutput struct {
		Body []Item
	}
)

func (h *Handler) registerCatalog(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listCatalog",
		Summary:     "List catalog items",
		Method:      http.MethodGet,
		Path:        "/api/catalog",
		Tags:        []string{tagCatalog},
	}, h.ListItems)

	huma.Register(api, huma.Operation{
		OperationID: "getCatalogItem",
		Summary:     "Get a catalog item",
		Method:      http.MethodGet,
		Path:        "/api/catalog/{id}",
		Tags:        []string{tagCatalog},
	}, h.GetItem)

	huma.Register(api, huma.Operation{
		OperationID:   "createCatalogItem",
		Summary:       "Add an item to the acting seller's catalog",
		Method:        http.MethodPost,
		Path:          "/api/catalog",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{tagCatalog},
		Security:      authenticated,
	}, h.CreateItem)

	huma.Register(api, huma.Operation{
		OperationID: "updateCatalogItem",
		Summary:     "Update an owned catalog item",
		Method:      http.MethodPut,
		Path:        "/api/catalog/{id}",
		Tags:        []string{tagCatalog},
		Security:    authenticated,
	}, h.UpdateItem)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteCatalogItem",
		Summary:       "Delete an owned catalog item",
		Method:        http.MethodDelete,
		Path:          "/api/catalog/{id}",
		DefaultStatus: http.StatusNoContent,
		Tags:          []string{tagCatalog},
		Security:      authenticated,
	}, h.DeleteItem)
}

// ListItems handles GET /api/catalog.
func (h *Handler) ListItems(ctx context.Context, in *listItemsInput) (*itemsOutput, error) {
	items, err := h.catalog.List(ctx, catalog.Query{
		SellerID: in.SellerID,
		Criteria: catalog.Criteria{
			Term:      in.Term,
			StoreName: in.StoreName,
			Category:  in.Category,
		},
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}

	out := &itemsOutput{Body: make([]Item, len(items))}
	for i := range items {
		out.Body[i] = h.toItem(&items[i])
	}
	return out, nil
}

// GetItem handles GET /api/catalog/{id}.
func (h *Handler) GetItem(ctx context.Context, in *itemIDInput) (*itemOutput, error) {
	it, err := h.catalog.Get(ctx, in.ID)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &itemOutput{Body: h.toItem(it)}, nil
}

// CreateItem handles POST /api/catalog.
func (h *Handler) CreateItem(ctx context.Context, in *createItemInput) (*itemOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	if err := actor.Require(auth.RoleSeller); err != nil {
		return nil, mapError(ctx, err)
	}

	b := in.Body
	switch {
	case b.Price == nil:
		return nil, mapError(ctx, fault.Validation("price is required"))
	case b.Quantity == nil:
		return nil, mapError(ctx, fault.Validation("quantity is required"))
	}
	it, err := h.catalog.Create(ctx, actor, catalog.NewItem{
		Name:        b.Name,
		Description: b.Description,
		Price:       decimal.NewFromFloat(*b.Price),
		Quantity:    *b.Quantity,
		Category:    b.Category,
		Image:       b.Image,
		Attributes:  fromAttributes(b.Attributes),
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &itemOutput{Body: h.toItem(it)}, nil
}

// UpdateItem handles PUT /api/catalog/{id}.
func (h *Handler) UpdateItem(ctx context.Context, in *updateItemInput) (*itemOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	b := in.Body
	patch := catalog.ItemPatch{
		Name:        b.Name,
		Description: b.Description,
		Quantity:    b.Quantity,
		Category:    b.Category,
		Image:       b.Image,
	}
	if b.Price != nil {
		price := decimal.NewFromFloat(*b.Price)
		patch.Price = &price
	}
	if b.Attributes != nil {
		attrs := fromAttributes(*b.Attributes)
		patch.Attributes = &attrs
	}

	it, err := h.catalog.Update(ctx, actor, in.ID, patch)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &itemOutput{Body: h.toItem(it)}, nil
}

// DeleteItem handles DELETE /api/catalog/{id}.
func (h *Handler) DeleteItem(ctx context.Context, in *itemIDInput) (*struct{}, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.catalog.Delete(ctx, actor, in.ID); err != nil {
		return nil, mapError(ctx, err)
	}
	return nil, nil
}

func fromAttributes(a ItemAttributesInput) catalog.Attributes {
	return catalog.Attributes{
		PreparationMinutes: a.PreparationMinutes,
		Vegetarian:         a.Vegetarian,
		SpiceLevel:         a.SpiceLevel,
	}
}

func (h *Handler) toItem(it *catalog.Item) Item {
	return Item{
		ID:          it.ID,
		SellerID:    it.SellerID,
		StoreName:   it.StoreName,
		Name:        it.Name,
		Description: it.Description,
		Price:       it.Price.InexactFloat64(),
		Quantity:    it.Quantity,
		Category:    it.Category,
		Image:       h.imageURL(it.Image),
		Attributes: ItemAttributes{
			PreparationMinutes: it.Attributes.PreparationMinutes,
			Vegetarian:         it.Attributes.Vegetarian,
			SpiceLevel:         it.Attributes.SpiceLevel,
		},
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}
