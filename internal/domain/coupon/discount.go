package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns the discount granted by d for a purchase of amount.
//
// BUY_X_GET_Y_FREE and FREE_SHIPPING have no defined business rule yet and
// always yield zero.
func Calculate(d DiscountDetails, amount decimal.Decimal) (decimal.Decimal, error) {
	switch d.Type {
	case DiscountPercentage:
		return amount.Mul(d.Value).Div(hundred), nil
	case DiscountFixedAmount:
		return d.Value, nil
	case DiscountBuyXGetYFree, DiscountFreeShipping:
		// TODO: compute these once product defines the X/Y quantities and the
		// shipping amount that the purchase context should carry.
		return decimal.Zero, nil
	default:
		return decimal.Zero, &UnknownDiscountTypeError{Type: d.Type}
	}
}

// Placeholder reports whether t is accepted but not yet priced.
func (t DiscountType) Placeholder() bool {
	return t == DiscountBuyXGetYFree || t == DiscountFreeShipping
}
