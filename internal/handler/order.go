package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/order"
)

// OrderLine is one line of an order, priced when the order was placed.
type OrderLine struct {
	ItemID   string  `json:"itemId"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Order is the order representation.
type Order struct {
	ID              string      `json:"id"`
	BuyerID         string      `json:"buyerId"`
	SellerID        string      `json:"sellerId"`
	Items           []OrderLine `json:"items"`
	Status          string      `json:"status" enum:"pending,accepted,preparing,ready_for_pickup,out_for_delivery,delivered,cancelled"`
	PaymentMethod   string      `json:"paymentMethod"`
	Subtotal        float64     `json:"subtotal"`
	DeliveryFee     float64     `json:"deliveryFee"`
	Total           float64     `json:"total"`
	Commission      float64     `json:"commission"`
	DeliveryAddress string      `json:"deliveryAddress"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// OrderLineInput requests a quantity of one catalog item.
type OrderLineInput struct {
	ItemID   string `json:"itemId,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// PlaceOrderInput is the body of an order placement. Prices are never taken
// from the client.
type PlaceOrderInput struct {
	SellerID        string           `json:"sellerId,omitempty"`
	Items           []OrderLineInput `json:"items,omitempty"`
	PaymentMethod   string           `json:"paymentMethod,omitempty" doc:"cash, electronic or upi"`
	DeliveryAddress string           `json:"deliveryAddress,omitempty"`
}

type (
	placeOrderInput struct {
		IdempotencyKey string `header:"Idempotency-Key" doc:"Rejects replays of the same placement"`
		Body           PlaceOrderInput
	}
	orderIDInput struct {
		ID string `path:"id"`
	}
	sellerOrdersInput struct {
		Status string `query:"status" doc:"Only orders in this status"`
	}
	transitionInput struct {
		ID   string `path:"id"`
		Body struct {
			Status string `json:"status,omitempty" doc:"Target status"`
		}
	}
	orderOutput struct {
		Body Order
	}
	ordersOutput struct {
		Body []Order
	}
)

func (h *Handler) registerOrders(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "placeOrder",
		Summary:       "Place an order",
		Description:   "Reserves stock for every line and creates a pending order in one transaction.",
		Method:        http.MethodPost,
		Path:          "/api/orders",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{tagOrders},
		Security:      authenticated,
	}, h.PlaceOrder)

	huma.Register(api, huma.Operation{
		OperationID: "listMyOrders",
		Summary:     "List the acting buyer's orders",
		Method:      http.MethodGet,
		Path:        "/api/orders/mine",
		Tags:        []string{tagOrders},
		Security:    authenticated,
	}, h.ListMyOrders)

	huma.Register(api, huma.Operation{
		OperationID: "listSellerOrders",
		Summary:     "List the acting seller's orders",
		Method:      http.MethodGet,
		Path:        "/api/orders/by-seller",
		Tags:        []string{tagOrders},
		Security:    authenticated,
	}, h.ListSellerOrders)

	huma.Register(api, huma.Operation{
		OperationID: "getOrder",
		Summary:     "Get an order",
		Method:      http.MethodGet,
		Path:        "/api/orders/{id}",
		Tags:        []string{tagOrders},
		Security:    authenticated,
	}, h.GetOrder)

	huma.Register(api, huma.Operation{
		OperationID: "updateOrderStatus",
		Summary:     "Move an order to a new status",
		Method:      http.MethodPut,
		Path:        "/api/orders/{id}/status",
		Tags:        []string{tagOrders},
		Security:    authenticated,
	}, h.UpdateOrderStatus)
}

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(ctx context.Context, in *placeOrderInput) (*orderOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := actor.Require(auth.RoleBuyer); err != nil {
		return nil, mapError(ctx, err)
	}

	lines := make([]order.LineRequest, len(in.Body.Items))
	for i, l := range in.Body.Items {
		lines[i] = order.LineRequest{ItemID: l.ItemID, Quantity: l.Quantity}
	}

	o, err := h.orders.PlaceOrder(ctx, order.PlaceOrderRequest{
		BuyerID:         actor.ID,
		SellerID:        in.Body.SellerID,
		Lines:           lines,
		PaymentMethod:   in.Body.PaymentMethod,
		DeliveryAddress: in.Body.DeliveryAddress,
		IdempotencyKey:  in.IdempotencyKey,
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &orderOutput{Body: toOrder(o)}, nil
}

// ListMyOrders handles GET /api/orders/mine.
func (h *Handler) ListMyOrders(ctx context.Context, _ *struct{}) (*ordersOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := h.orders.ListMine(ctx, actor)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return toOrders(orders), nil
}

// ListSellerOrders handles GET /api/orders/by-seller.
func (h *Handler) ListSellerOrders(ctx context.Context, in *sellerOrdersInput) (*ordersOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := h.orders.ListForSeller(ctx, actor, order.Status(in.Status))
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return toOrders(orders), nil
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(ctx context.Context, in *orderIDInput) (*orderOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	o, err := h.orders.Get(ctx, actor, in.ID)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &orderOutput{Body: toOrder(o)}, nil
}

// UpdateOrderStatus handles PUT /api/orders/{id}/status.
func (h *Handler) UpdateOrderStatus(ctx context.Context, in *transitionInput) (*orderOutput, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	o, err := h.orders.Transition(ctx, actor, in.ID, order.Status(in.Body.Status))
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return &orderOutput{Body: toOrder(o)}, nil
}

func toOrders(orders []order.Order) *ordersOutput {
	out := &ordersOutput{Body: make([]Order, len(orders))}
	for i := range orders {
		out.Body[i] = toOrder(&orders[i])
	}
	return out
}

func toOrder(o *order.Order) Order {
	lines := make([]OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = OrderLine{
			ItemID:   l.ItemID,
			Name:     l.Name,
			Price:    l.Price.InexactFloat64(),
			Quantity: l.Quantity,
		}
	}
	return Order{
		ID:              o.ID,
		BuyerID:         o.BuyerID,
		SellerID:        o.SellerID,
		Items:           lines,
		Status:          string(o.Status),
		PaymentMethod:   string(o.PaymentMethod),
		Subtotal:        o.Subtotal.InexactFloat64(),
		DeliveryFee:     o.DeliveryFee.InexactFloat64(),
		Total:           o.Total.InexactFloat64(),
		Commission:      o.Commission.InexactFloat64(),
		DeliveryAddress: o.DeliveryAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}
