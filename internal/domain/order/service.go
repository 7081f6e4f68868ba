package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/caremeds/internal/domain/auth"
	"github.com/xenking/caremeds/internal/domain/catalog"
	"github.com/xenking/caremeds/internal/domain/fault"
)

const instrumentationName = "github.com/xenking/caremeds/internal/domain/order"

var (
	// DefaultCommissionRate is the platform's share of an order subtotal.
	DefaultCommissionRate = decimal.RequireFromString("0.10")
	// DefaultDeliveryFee is the flat fee added to non-empty orders.
	DefaultDeliveryFee = decimal.NewFromInt(30)
)

// LineRequest is one requested line of a new order.
type LineRequest struct {
	ItemID   string
	Quantity int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	BuyerID         string
	SellerID        string
	Lines           []LineRequest
	PaymentMethod   string
	DeliveryAddress string
	// IdempotencyKey is optional; a replayed key fails with ErrDuplicateRequest.
	IdempotencyKey string
}

// Option configures a Service.
type Option func(*Service)

// WithCommissionRate overrides DefaultCommissionRate.
func WithCommissionRate(rate decimal.Decimal) Option {
	return func(s *Service) { s.commissionRate = rate }
}

// WithDeliveryFee overrides DefaultDeliveryFee.
func WithDeliveryFee(fee decimal.Decimal) Option {
	return func(s *Service) { s.deliveryFee = fee }
}

// WithIdempotencyGuard enables idempotency keys.
func WithIdempotencyGuard(g IdempotencyGuard) Option {
	return func(s *Service) { s.guard = g }
}

// WithMeterProvider sets the meter provider; the global one is the default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider; the global one is the default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// OnPlaced registers a callback invoked after an order commits.
func OnPlaced(fn func(ctx context.Context, o *Order)) Option {
	return func(s *Service) { s.onPlaced = append(s.onPlaced, fn) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service encapsulates order placement and fulfilment.
type Service struct {
	store          Store
	guard          IdempotencyGuard
	commissionRate decimal.Decimal
	deliveryFee    decimal.Decimal
	onPlaced       []func(ctx context.Context, o *Order)
	now            func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	placed         metric.Int64Counter
	rejected       metric.Int64Counter
	sales          metric.Float64Counter
	transitions    metric.Int64Counter
}

// NewService creates an order Service over store.
func NewService(store Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:          store,
		commissionRate: DefaultCommissionRate,
		deliveryFee:    DefaultDeliveryFee,
		now:            time.Now,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.commissionRate.IsNegative() || s.commissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.Errorf("commission rate %s out of range", s.commissionRate)
	}
	if s.deliveryFee.IsNegative() {
		return nil, errors.Errorf("negative delivery fee %s", s.deliveryFee)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order placements that failed, by kind"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.rejected")
	}
	if s.sales, err = meter.Float64Counter("orders.sales",
		metric.WithDescription("Order totals committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.sales")
	}
	if s.transitions, err = meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status changes, by target status"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.transitions")
	}

	return s, nil
}

// PlaceOrder validates the request, reserves stock and persists a pending
// order in one transaction. Either every line is applied or none is.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(
		attribute.String("seller_id", req.SellerID),
		attribute.Int("lines", len(req.Lines)),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.rejected.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", string(fault.KindOf(rerr))),
			))
		}
		span.End()
	}()

	method, err := validatePlacement(req)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.guard != nil {
		key := req.BuyerID + ":" + req.IdempotencyKey
		claimed, err := s.guard.Claim(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "claim idempotency key")
		}
		if !claimed {
			return nil, ErrDuplicateRequest
		}
		defer func() {
			if rerr == nil {
				return
			}
			// Let the client retry a failed placement with the same key.
			if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
				zctx.From(ctx).Warn("Release idempotency key", zap.Error(err))
			}
		}()
	}

	now := s.now().UTC()
	o := &Order{
		ID:              uuid.New().String(),
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		Status:          StatusPending,
		PaymentMethod:   method,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		lines, err := reserve(ctx, tx, req)
		if err != nil {
			return err
		}
		o.Lines = lines
		s.price(o)
		if err := tx.CreateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.placed.Add(ctx, 1)
	s.sales.Add(ctx, o.Total.InexactFloat64())
	for _, fn := range s.onPlaced {
		fn(ctx, o)
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("buyer_id", o.BuyerID),
		zap.String("seller_id", o.SellerID),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return o, nil
}

func validatePlacement(req PlaceOrderRequest) (PaymentMethod, error) {
	switch {
	case len(req.Lines) == 0:
		return "", fault.Validation("at least one item is required")
	case strings.TrimSpace(req.BuyerID) == "":
		return "", fault.Validation("buyer is required")
	case strings.TrimSpace(req.SellerID) == "":
		return "", fault.Validation("seller is required")
	case strings.TrimSpace(req.DeliveryAddress) == "":
		return "", fault.Validation("delivery address is required")
	}
	for _, l := range req.Lines {
		if strings.TrimSpace(l.ItemID) == "" {
			return "", fault.Validation("item id is required")
		}
		if l.Quantity <= 0 {
			return "", fault.Validation("quantity must be greater than 0 for item %s", l.ItemID)
		}
	}
	method, ok := ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		return "", fault.Validation("unknown payment method %q", req.PaymentMethod)
	}
	return method, nil
}

// reserve checks and decrements stock for every line in request order and
// returns the line snapshots.
func reserve(ctx context.Context, tx Tx, req PlaceOrderRequest) ([]Line, error) {
	lines := make([]Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		it, err := tx.Item(ctx, l.ItemID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, &ItemNotFoundError{ItemID: l.ItemID}
			}
			return nil, errors.Wrapf(err, "get item %s", l.ItemID)
		}
		if it.SellerID != req.SellerID {
			return nil, &ForeignItemError{ItemID: it.ID, SellerID: req.SellerID}
		}
		if l.Quantity > it.Quantity {
			return nil, &InsufficientStockError{
				ItemID:    it.ID,
				Requested: l.Quantity,
				Available: it.Quantity,
			}
		}
		if err := tx.DecrementStock(ctx, it.ID, l.Quantity); err != nil {
			return nil, errors.Wrapf(err, "decrement item %s", it.ID)
		}
		lines = append(lines, Line{
			ItemID:   it.ID,
			Name:     it.Name,
			Price:    it.Price,
			Quantity: l.Quantity,
		})
	}
	return lines, nil
}

func (s *Service) price(o *Order) {
	subtotal := decimal.Zero
	for _, l := range o.Lines {
		subtotal = subtotal.Add(l.Amount())
	}
	fee := decimal.Zero
	if subtotal.IsPositive() {
		fee = s.deliveryFee
	}
	o.Subtotal = subtotal.Round(2)
	o.DeliveryFee = fee.Round(2)
	o.Total = subtotal.Add(fee).Round(2)
	o.Commission = subtotal.Mul(s.commissionRate).Round(2)
}

// Transition moves an order to next on behalf of its seller or an admin.
func (s *Service) Transition(ctx context.Context, actor auth.Principal, orderID string, next Status) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", string(next)),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := actor.Require(auth.RoleSeller, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if !next.Valid() {
		return nil, fault.Validation("unknown status %q", next)
	}

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleSeller && o.SellerID != actor.ID {
		return nil, ErrNotParticipant
	}
	if !o.Status.CanTransitionTo(next) {
		return nil, &InvalidTransitionError{From: o.Status, To: next}
	}

	now := s.now().UTC()
	if err := s.store.UpdateStatus(ctx, o.ID, o.Status, next, now); err != nil {
		return nil, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(next))))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(next)),
		zap.String("actor_id", actor.ID),
	)

	o.Status = next
	o.UpdatedAt = now
	return o, nil
}

// Get returns an order visible to actor: its buyer, its seller or an admin.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case auth.RoleAdmin:
		return o, nil
	case auth.RoleBuyer:
		if o.BuyerID == actor.ID {
			return o, nil
		}
	case auth.RoleSeller:
		if o.SellerID == actor.ID {
			return o, nil
		}
	}
	return nil, ErrNotParticipant
}

// ListMine returns the acting buyer's orders, newest first.
func (s *Service) ListMine(ctx context.Context, actor auth.Principal) ([]Order, error) {
	if err := actor.Require(auth.RoleBuyer); err != nil {
		return nil, err
	}
	return s.store.List(ctx, Query{BuyerID: actor.ID})
}

// ListForSeller returns the acting seller's orders, optionally narrowed to
// one status.
func (s *Service) ListForSeller(ctx context.Context, actor auth.Principal, status Status) ([]Order, error) {
	if err := actor.Require(auth.RoleSeller); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, fault.Validation("unknown status %q", status)
	}
	return s.store.List(ctx, Query{SellerID: actor.ID, Status: status})
}
