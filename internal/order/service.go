package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MikeMC777/hyperlocal-delivery/internal/pricing"
)

const (
	DefaultEstimatedDelivery = "30-45 mins"
	maxNumberAttempts        = 5
)

var tracer = otel.Tracer("github.com/MikeMC777/hyperlocal-delivery/internal/order")

// PriceChecker re-validates a submitted line against the catalog.
type PriceChecker interface {
	CheckPrice(ctx context.Context, merchantID string, item CreateOrderItem) error
}

// Actor is whoever performs an operation. Staff covers merchants and admins.
type Actor struct {
	UserID string
	Staff  bool
}

type Options struct {
	Pricing           pricing.Policy
	Sequencer         Sequencer
	Prices            PriceChecker
	Logger            *zap.Logger
	Now               func() time.Time
	EstimatedDelivery string
}

type Service struct {
	repo      Repository
	numbers   NumberGenerator
	pricing   pricing.Policy
	prices    PriceChecker
	log       *zap.Logger
	now       func() time.Time
	estimated string
}

func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:      repo,
		pricing:   opts.Pricing,
		prices:    opts.Prices,
		log:       opts.Logger,
		now:       opts.Now,
		estimated: opts.EstimatedDelivery,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.pricing.Fee == nil {
		s.pricing = pricing.DefaultPolicy()
	}
	if s.estimated == "" {
		s.estimated = DefaultEstimatedDelivery
	}
	seq := opts.Sequencer
	if seq == nil {
		seq = NewLocalSequencer(s.now().Unix() % 1000000 * 100)
	}
	s.numbers = NumberGenerator{Seq: seq, Now: s.now}
	return s
}

// Validate checks a submission before anything is written.
func Validate(req CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return invalid("Order must contain at least one item")
	}
	if strings.TrimSpace(req.MerchantID) == "" {
		return invalid("Merchant ID is required")
	}
	a := req.DeliveryAddress
	if a == nil || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Pincode) == "" {
		return invalid("Complete delivery address is required")
	}
	if _, ok := ParsePaymentMethod(req.PaymentMethod); !ok {
		return invalid("unknown payment method %q", req.PaymentMethod)
	}
	for i, it := range req.Items {
		switch {
		case strings.TrimSpace(it.ProductID) == "":
			return invalid("item %d: product id is required", i)
		case strings.TrimSpace(it.ProductName) == "":
			return invalid("item %d: product name is required", i)
		case it.ProductPrice.IsNegative():
			return invalid("item %d: price cannot be negative", i)
		case !pricing.WholeCents(it.ProductPrice):
			return invalid("item %d: price cannot have more than %d decimal places", i, pricing.Places)
		case it.Quantity < 1:
			return invalid("item %d: quantity must be at least 1", i)
		}
	}
	return nil
}

// Place accepts a single-merchant order. The returned bool reports an
// idempotent replay of an order placed earlier with the same key.
func (s *Service) Place(ctx context.Context, userID string, req CreateOrderRequest) (o *Order, replayed bool, err error) {
	ctx, span := tracer.Start(ctx, "order.Place", trace.WithAttributes(
		attribute.String("merchant.id", req.MerchantID),
		attribute.Int("items", len(req.Items)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := Validate(req); err != nil {
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		prev, err := s.repo.GetByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		switch {
		case err == nil:
			return replay(prev, req)
		case !errors.Is(err, ErrNotFound):
			return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	if s.prices != nil {
		for _, it := range req.Items {
			if err := s.prices.CheckPrice(ctx, req.MerchantID, it); err != nil {
				return nil, false, err
			}
		}
	}

	items := make([]LineItem, 0, len(req.Items))
	lines := make([]pricing.Line, 0, len(req.Items))
	for _, it := range req.Items {
		sub, err := pricing.LineSubtotal(it.ProductPrice, it.Quantity)
		if err != nil {
			return nil, false, invalid("%v", err)
		}
		items = append(items, LineItem{
			ProductID:    it.ProductID,
			ProductName:  it.ProductName,
			ProductPrice: it.ProductPrice,
			Quantity:     it.Quantity,
			Subtotal:     sub,
		})
		lines = append(lines, pricing.Line{UnitPrice: it.ProductPrice, Quantity: it.Quantity})
	}
	totals, err := s.pricing.Compute(lines, nil)
	if err != nil {
		return nil, false, invalid("%v", err)
	}
	if req.DeliveryFee != nil && !req.DeliveryFee.Equal(totals.DeliveryFee) {
		s.log.Info("client delivery fee ignored",
			zap.String("merchant_id", req.MerchantID),
			zap.String("client_fee", req.DeliveryFee.String()),
			zap.String("fee", totals.DeliveryFee.String()))
	}

	method, _ := ParsePaymentMethod(req.PaymentMethod)
	now := s.now()
	addr := *req.DeliveryAddress
	if addr.Coordinates != nil {
		c := *addr.Coordinates
		addr.Coordinates = &c
	}
	o = &Order{
		ID:                    uuid.NewString(),
		UserID:                userID,
		MerchantID:            req.MerchantID,
		Items:                 items,
		DeliveryAddress:       addr,
		Subtotal:              totals.Subtotal,
		DeliveryFee:           totals.DeliveryFee,
		Total:                 totals.Total,
		Status:                StatusPending,
		PaymentMethod:         method,
		PaymentStatus:         PaymentPending,
		EstimatedDeliveryTime: s.estimated,
		IdempotencyKey:        req.IdempotencyKey,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		number, err := s.numbers.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		o.OrderNumber = number

		err = s.repo.Create(ctx, o)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("order.number", o.OrderNumber))
			s.log.Info("order placed",
				zap.String("order_id", o.ID),
				zap.String("order_number", o.OrderNumber),
				zap.String("merchant_id", o.MerchantID),
				zap.String("total", o.Total.String()))
			return o, false, nil
		case errors.Is(err, ErrDuplicateOrderNumber):
			s.log.Warn("order number collision, regenerating",
				zap.String("order_number", number), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			prev, gerr := s.repo.GetByIdempotencyKey(ctx, userID, req.IdempotencyKey)
			if gerr != nil {
				return nil, false, fmt.Errorf("load concurrent order: %w", gerr)
			}
			return replay(prev, req)
		default:
			return nil, false, fmt.Errorf("create order: %w", err)
		}
	}
	return nil, false, fmt.Errorf("create order: %w after %d attempts", ErrDuplicateOrderNumber, maxNumberAttempts)
}

// replay returns prev for a repeated key, refusing a key reused for another
// merchant's basket.
func replay(prev *Order, req CreateOrderRequest) (*Order, bool, error) {
	if prev.MerchantID != req.MerchantID {
		return nil, false, fmt.Errorf("%w: key %q belongs to order %s", ErrIdempotencyConflict, req.IdempotencyKey, prev.OrderNumber)
	}
	return prev, true, nil
}

// Get returns an order visible to the actor. Customers see only their own.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Staff && o.UserID != actor.UserID {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	out, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Order{}
	}
	return out, nil
}

// UpdateStatus advances an order one step. Customers may only cancel their
// own orders; staff may perform any allowed transition.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id, status string) (*Order, error) {
	to := Status(status)
	if !to.Valid() {
		return nil, invalid("invalid status %q", status)
	}
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Staff && (cur.UserID != actor.UserID || to != StatusCancelled) {
		return nil, ErrForbidden
	}
	if !CanTransition(cur.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	updated, err := s.repo.UpdateStatus(ctx, id, cur.Status, to)
	if err != nil {
		return nil, err
	}
	s.log.Info("order status changed",
		zap.String("order_id", id),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(to)))
	return updated, nil
}
