package coupon

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Mode selects how the evaluator treats context fields that are absent.
type Mode int

const (
	// Strict rejects a coupon whose restriction needs a field the context
	// does not carry. Used when committing a coupon to an order.
	Strict Mode = iota
	// Loose lets an absent field pass. Used when discovering coupons.
	Loose
)

func (m Mode) String() string {
	if m == Loose {
		return "loose"
	}
	return "strict"
}

// Usage holds live redemption counts for one coupon, counting BLOCKED and
// COMPLETED redemptions.
type Usage struct {
	// Total counts redemptions of the coupon across all users.
	Total int
	// PerUser counts redemptions of the coupon by the context's user.
	PerUser int
}

// PurchaseContext is the set of attributes restrictions are evaluated
// against. Empty strings mean the attribute is absent.
type PurchaseContext struct {
	UserID        string
	Product       string
	Category      string
	UserGroup     string
	LocationCode  string
	PaymentMethod string
	Channel       string
	Amount        decimal.NullDecimal
	// Usage is nil when counts were not loaded.
	Usage *Usage
}

// WithAmount returns a copy of pc carrying the given purchase amount.
func (pc PurchaseContext) WithAmount(amount decimal.Decimal) PurchaseContext {
	pc.Amount = decimal.NullDecimal{Decimal: amount, Valid: true}
	return pc
}

// Evaluate checks every restriction against pc in stored order and returns
// the first failure. A nil result means the coupon applies.
func Evaluate(restrictions []Restriction, pc PurchaseContext, mode Mode) error {
	for _, r := range restrictions {
		if err := Check(r, pc, mode); err != nil {
			return err
		}
	}
	return nil
}

// Check evaluates a single restriction.
func Check(r Restriction, pc PurchaseContext, mode Mode) error {
	switch r.Type {
	case RestrictionProduct:
		return checkMember(r, "product", pc.Product, mode)
	case RestrictionCategory:
		return checkMember(r, "category", pc.Category, mode)
	case RestrictionUserGroup:
		return checkMember(r, "userGroup", pc.UserGroup, mode)
	case RestrictionLocationCode:
		return checkMember(r, "locationCode", pc.LocationCode, mode)
	case RestrictionPaymentMethod:
		return checkMember(r, "paymentMethod", pc.PaymentMethod, mode)
	case RestrictionChannel:
		return checkMember(r, "channel", pc.Channel, mode)
	case RestrictionMinimumPurchase:
		if !pc.Amount.Valid {
			if mode == Loose {
				return nil
			}
			return missingContext(r.Type, "purchaseAmount")
		}
		if pc.Amount.Decimal.LessThan(r.MinimumAmount) {
			return violation(r.Type, "purchase amount must be at least %s", r.MinimumAmount)
		}
		return nil
	case RestrictionMaxUses:
		if pc.Usage == nil {
			if mode == Loose {
				return nil
			}
			return missingContext(r.Type, "usage")
		}
		if pc.Usage.Total >= r.Limit {
			return violation(r.Type, "coupon has reached its maximum number of uses")
		}
		return nil
	case RestrictionMaxUsesPerUser:
		if pc.Usage == nil || pc.UserID == "" {
			if mode == Loose {
				return nil
			}
			if pc.UserID == "" {
				return missingContext(r.Type, "userId")
			}
			return missingContext(r.Type, "usage")
		}
		if pc.Usage.PerUser >= r.Limit {
			return violation(r.Type, "user has reached the maximum number of uses for this coupon")
		}
		return nil
	default:
		return &UnsupportedRestrictionError{Type: r.Type}
	}
}

func checkMember(r Restriction, field, value string, mode Mode) error {
	if value == "" {
		if mode == Loose {
			return nil
		}
		return missingContext(r.Type, field)
	}
	if !lo.Contains(r.Values, value) {
		return violation(r.Type, "%s %q is not eligible for this coupon", field, value)
	}
	return nil
}
