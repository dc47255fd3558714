// Package pricing computes order totals and delivery fees.
//
// All arithmetic is done with shopspring/decimal and rounded to two places,
// the minor unit of the storefront currency.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places money is rounded to.
const Places = 2

var (
	ErrNoLines     = errors.New("at least one line is required")
	ErrInvalidLine = errors.New("invalid line")
	ErrInvalidFee  = errors.New("delivery fee cannot be negative")
)

var (
	DefaultFreeDeliveryThreshold = decimal.NewFromInt(100)
	DefaultFlatDeliveryFee       = decimal.NewFromInt(50)
)

// Line is one priced quantity.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Total       decimal.Decimal `json:"total"`
}

// FeeFunc returns the delivery fee for a subtotal. It is the extension
// point for distance or tier based fees.
type FeeFunc func(subtotal decimal.Decimal) decimal.Decimal

// ThresholdFee waives the fee once subtotal reaches threshold and charges
// flat otherwise.
func ThresholdFee(threshold, flat decimal.Decimal) FeeFunc {
	return func(subtotal decimal.Decimal) decimal.Decimal {
		if subtotal.GreaterThanOrEqual(threshold) {
			return decimal.Zero
		}
		return flat
	}
}

type Policy struct {
	Fee FeeFunc
}

// DefaultPolicy charges 50 below a subtotal of 100 and nothing above it.
func DefaultPolicy() Policy {
	return Policy{Fee: ThresholdFee(DefaultFreeDeliveryThreshold, DefaultFlatDeliveryFee)}
}

// Compute prices lines. A non-nil hint replaces the policy fee; servers
// must pass nil so the fee is always derived from the policy.
func (p Policy) Compute(lines []Line, hint *decimal.Decimal) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, ErrNoLines
	}
	subtotal := decimal.Zero
	for i, l := range lines {
		ls, err := LineSubtotal(l.UnitPrice, l.Quantity)
		if err != nil {
			return Totals{}, fmt.Errorf("line %d: %w", i, err)
		}
		subtotal = subtotal.Add(ls)
	}
	subtotal = subtotal.Round(Places)

	var fee decimal.Decimal
	switch {
	case hint != nil:
		fee = *hint
	case p.Fee != nil:
		fee = p.Fee(subtotal)
	default:
		fee = DefaultPolicy().Fee(subtotal)
	}
	if fee.IsNegative() {
		return Totals{}, ErrInvalidFee
	}
	fee = fee.Round(Places)

	return Totals{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Total:       subtotal.Add(fee),
	}, nil
}

// WholeCents reports whether d has no more than Places decimal places.
func WholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(Places))
}

// LineSubtotal is price × quantity, rejecting negative prices and
// quantities below one.
func LineSubtotal(price decimal.Decimal, qty int) (decimal.Decimal, error) {
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price %s", ErrInvalidLine, price)
	}
	if qty < 1 {
		return decimal.Zero, fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidLine, qty)
	}
	return price.Mul(decimal.NewFromInt(int64(qty))).Round(Places), nil
}
