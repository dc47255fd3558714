// Package checkout turns a multi-merchant cart into one order per merchant.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MikeMC777/hyperlocal-delivery/internal/cart"
	"github.com/MikeMC777/hyperlocal-delivery/internal/order"
	"github.com/MikeMC777/hyperlocal-delivery/internal/pricing"
)

const defaultMaxConcurrent = 8

// ErrNoOrderReturned marks a submission that reported success without an order.
var ErrNoOrderReturned = errors.New("no order returned")

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hyperlocal-delivery/checkout"))

// Submission is one merchant's share of the cart, ready to send.
type Submission struct {
	Merchant cart.Merchant
	Request  order.CreateOrderRequest
}

type Submitter interface {
	Submit(ctx context.Context, s Submission) (*order.Order, error)
}

// Quote is the client-side estimate for one merchant group. It is for
// display only; the placed order carries the authoritative amounts.
type Quote struct {
	Merchant cart.Merchant
	Totals   pricing.Totals
}

type Result struct {
	Orders []order.Order
	Quotes []Quote
}

type MerchantFailure struct {
	Merchant cart.Merchant
	Err      error
}

// PartialCheckoutError means some merchants accepted their order and some
// did not. The cart now holds only the failed merchants' lines.
type PartialCheckoutError struct {
	Placed []order.Order
	Failed []MerchantFailure
}

func (e *PartialCheckoutError) Error() string {
	return fmt.Sprintf("%d of %d orders failed: %s",
		len(e.Failed), len(e.Failed)+len(e.Placed), describe(e.Failed))
}

func (e *PartialCheckoutError) Unwrap() []error { return causes(e.Failed) }

// CheckoutFailedError means no order was placed; the cart is unchanged.
type CheckoutFailedError struct {
	Failed []MerchantFailure
}

func (e *CheckoutFailedError) Error() string {
	return "checkout failed: " + describe(e.Failed)
}

func (e *CheckoutFailedError) Unwrap() []error { return causes(e.Failed) }

func describe(fs []MerchantFailure) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		name := f.Merchant.Name
		if name == "" {
			name = f.Merchant.ID
		}
		parts[i] = fmt.Sprintf("%s: %v", name, f.Err)
	}
	return strings.Join(parts, "; ")
}

func causes(fs []MerchantFailure) []error {
	out := make([]error, len(fs))
	for i, f := range fs {
		out[i] = f.Err
	}
	return out
}

type Workflow struct {
	Cart          *cart.Store
	Submitter     Submitter
	Pricing       pricing.Policy
	Log           *zap.Logger
	MaxConcurrent int
}

func New(c *cart.Store, s Submitter, p pricing.Policy, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	if p.Fee == nil {
		p = pricing.DefaultPolicy()
	}
	return &Workflow{Cart: c, Submitter: s, Pricing: p, Log: log, MaxConcurrent: defaultMaxConcurrent}
}

// IdempotencyKey derives a stable key from a merchant group, so resubmitting
// the same lines after a lost response cannot create a second order.
func IdempotencyKey(g cart.Group) string {
	var b strings.Builder
	b.WriteString(g.Merchant.ID)
	for _, l := range g.Lines {
		fmt.Fprintf(&b, "|%s:%d:%d", l.Product.ID, l.Quantity, l.AddedAt.UnixNano())
	}
	return uuid.NewSHA1(keyNamespace, []byte(b.String())).String()
}

// Prepare builds the per-merchant submissions and their display quotes
// without touching the network.
func (w *Workflow) Prepare(addr order.Address, paymentMethod string) ([]Submission, []Quote, error) {
	groups := w.Cart.Groups()
	if len(groups) == 0 {
		return nil, nil, &order.ValidationError{Message: "Your cart is empty"}
	}

	subs := make([]Submission, 0, len(groups))
	quotes := make([]Quote, 0, len(groups))
	for _, g := range groups {
		items := make([]order.CreateOrderItem, 0, len(g.Lines))
		lines := make([]pricing.Line, 0, len(g.Lines))
		for _, l := range g.Lines {
			items = append(items, order.CreateOrderItem{
				ProductID:    l.Product.ID,
				ProductName:  l.Product.Name,
				ProductPrice: l.Product.Price,
				Quantity:     l.Quantity,
			})
			lines = append(lines, pricing.Line{UnitPrice: l.Product.Price, Quantity: l.Quantity})
		}
		totals, err := w.Pricing.Compute(lines, nil)
		if err != nil {
			return nil, nil, &order.ValidationError{Message: err.Error()}
		}
		a := addr
		fee := totals.DeliveryFee
		req := order.CreateOrderRequest{
			Items:           items,
			MerchantID:      g.Merchant.ID,
			DeliveryAddress: &a,
			PaymentMethod:   paymentMethod,
			DeliveryFee:     &fee,
			IdempotencyKey:  IdempotencyKey(g),
		}
		if err := order.Validate(req); err != nil {
			return nil, nil, err
		}
		subs = append(subs, Submission{Merchant: g.Merchant, Request: req})
		quotes = append(quotes, Quote{Merchant: g.Merchant, Totals: totals})
	}
	return subs, quotes, nil
}

// Checkout submits one order per merchant concurrently and waits for every
// submission to settle. Only a fully successful checkout clears the cart; on
// partial failure the cart keeps the failed merchants' lines so the user
// can retry them.
func (w *Workflow) Checkout(ctx context.Context, addr order.Address, paymentMethod string) (*Result, error) {
	subs, quotes, err := w.Prepare(addr, paymentMethod)
	if err != nil {
		return nil, err
	}

	placed := make([]*order.Order, len(subs))
	errs := make([]error, len(subs))

	// Submissions never return an error to the group so one failure does
	// not cancel the others.
	var g errgroup.Group
	if w.MaxConcurrent > 0 {
		g.SetLimit(w.MaxConcurrent)
	}
	for i := range subs {
		i := i
		g.Go(func() error {
			placed[i], errs[i] = w.Submitter.Submit(ctx, subs[i])
			if errs[i] == nil && placed[i] == nil {
				errs[i] = ErrNoOrderReturned
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Quotes: quotes}
	var failed []MerchantFailure
	for i, s := range subs {
		if errs[i] != nil {
			w.Log.Warn("merchant order failed",
				zap.String("merchant_id", s.Merchant.ID), zap.Error(errs[i]))
			failed = append(failed, MerchantFailure{Merchant: s.Merchant, Err: errs[i]})
			continue
		}
		res.Orders = append(res.Orders, *placed[i])
	}

	switch {
	case len(failed) == 0:
		if err := w.Cart.Clear(); err != nil {
			// orders exist; a later resubmission replays them by key
			w.Log.Error("clear cart after checkout", zap.Error(err))
		}
		return res, nil
	case len(res.Orders) == 0:
		return nil, &CheckoutFailedError{Failed: failed}
	}

	ids := make([]string, len(failed))
	for i, f := range failed {
		ids[i] = f.Merchant.ID
	}
	sort.Strings(ids)
	if err := w.Cart.RetainMerchants(ids); err != nil {
		w.Log.Error("retain failed merchants in cart", zap.Error(err))
	}
	return res, &PartialCheckoutError{Placed: res.Orders, Failed: failed}
}
