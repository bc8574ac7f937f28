package coupon

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places amounts are stored with.
const MoneyScale = 2

// MaxLimit bounds MAX_USES and MAX_USES_PER_USER.
const MaxLimit = math.MaxInt32

// maxAmount is the exclusive upper bound of a stored amount.
var maxAmount = decimal.New(1, 10)

// CheckAmount returns an ErrInvalid error when v cannot be stored exactly:
// negative values, values of 1e10 or more, and values with more than
// MoneyScale decimal places.
func CheckAmount(field string, v decimal.Decimal) error {
	switch {
	case v.IsNegative():
		return errors.Wrapf(ErrInvalid, "%s must not be negative", field)
	case v.GreaterThanOrEqual(maxAmount):
		return errors.Wrapf(ErrInvalid, "%s must be below %s", field, maxAmount)
	case !v.Equal(v.Round(MoneyScale)):
		return errors.Wrapf(ErrInvalid, "%s has more than %d decimal places", field, MoneyScale)
	}
	return nil
}

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes discountValue percent off the purchase amount.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixedAmount takes discountValue off regardless of purchase amount.
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
	// DiscountBuyXGetYFree is accepted but computes no discount yet.
	DiscountBuyXGetYFree DiscountType = "BUY_X_GET_Y_FREE"
	// DiscountFreeShipping is accepted but computes no discount yet.
	DiscountFreeShipping DiscountType = "FREE_SHIPPING"
)

// Known reports whether t is one of the declared discount types.
func (t DiscountType) Known() bool {
	switch t {
	case DiscountPercentage, DiscountFixedAmount, DiscountBuyXGetYFree, DiscountFreeShipping:
		return true
	}
	return false
}

// RestrictionType is the discriminant of a Restriction. A coupon carries at
// most one restriction of each type.
type RestrictionType string

const (
	RestrictionProduct         RestrictionType = "PRODUCT"
	RestrictionCategory        RestrictionType = "CATEGORY"
	RestrictionUserGroup       RestrictionType = "USER_GROUP"
	RestrictionMinimumPurchase RestrictionType = "MINIMUM_PURCHASE"
	RestrictionLocationCode    RestrictionType = "LOCATION_CODE"
	RestrictionPaymentMethod   RestrictionType = "PAYMENT_METHOD"
	RestrictionChannel         RestrictionType = "CHANNEL"
	RestrictionMaxUses         RestrictionType = "MAX_USES"
	RestrictionMaxUsesPerUser  RestrictionType = "MAX_USES_PER_USER"
)

// Known reports whether t is one of the declared restriction types.
func (t RestrictionType) Known() bool {
	switch t {
	case RestrictionProduct, RestrictionCategory, RestrictionUserGroup,
		RestrictionMinimumPurchase, RestrictionLocationCode, RestrictionPaymentMethod,
		RestrictionChannel, RestrictionMaxUses, RestrictionMaxUsesPerUser:
		return true
	}
	return false
}

// Membership reports whether the restriction is satisfied by a context value
// belonging to an allowed set.
func (t RestrictionType) Membership() bool {
	switch t {
	case RestrictionProduct, RestrictionCategory, RestrictionUserGroup,
		RestrictionLocationCode, RestrictionPaymentMethod, RestrictionChannel:
		return true
	}
	return false
}

// UsageBound reports whether the restriction is checked against live
// redemption counts rather than the purchase context.
func (t RestrictionType) UsageBound() bool {
	return t == RestrictionMaxUses || t == RestrictionMaxUsesPerUser
}

// DiscountDetails is the rule used to compute the monetary discount once a
// coupon applies. It is owned by exactly one coupon and replaced wholesale.
type DiscountDetails struct {
	Type  DiscountType
	Value decimal.Decimal
}

// Restriction is a tagged variant keyed by Type. Only the payload field that
// belongs to Type is meaningful:
//
//   - membership types (PRODUCT, CATEGORY, USER_GROUP, LOCATION_CODE,
//     PAYMENT_METHOD, CHANNEL) use Values;
//   - MINIMUM_PURCHASE uses MinimumAmount;
//   - MAX_USES and MAX_USES_PER_USER use Limit.
type Restriction struct {
	ID            string
	Type          RestrictionType
	Values        []string
	MinimumAmount decimal.Decimal
	Limit         int
}

// Coupon is a discount offer identified by a unique code and valid within an
// inclusive [StartDate, EndDate] window.
type Coupon struct {
	ID           string
	Code         string
	Description  string
	StartDate    time.Time
	EndDate      time.Time
	Active       bool
	Discount     DiscountDetails
	Restrictions []Restriction
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ValidAt reports whether the coupon is active and t falls inside its
// validity window, both bounds included.
func (c *Coupon) ValidAt(t time.Time) bool {
	return c.Active && !t.Before(c.StartDate) && !t.After(c.EndDate)
}

// HasUsageBound reports whether any restriction needs live redemption counts.
func (c *Coupon) HasUsageBound() bool {
	for _, r := range c.Restrictions {
		if r.Type.UsageBound() {
			return true
		}
	}
	return false
}

// Restriction returns the coupon's restriction of type t, if present.
func (c *Coupon) Restriction(t RestrictionType) (Restriction, bool) {
	for _, r := range c.Restrictions {
		if r.Type == t {
			return r, true
		}
	}
	return Restriction{}, false
}

// Update describes a partial coupon change. Nil pointers leave the field
// untouched. A nil Restrictions slice leaves the restriction set untouched;
// a non-nil slice (even empty) becomes the new set.
type Update struct {
	Code         *string
	Description  *string
	StartDate    *time.Time
	EndDate      *time.Time
	Active       *bool
	Discount     *DiscountDetails
	Restrictions []Restriction
}

// Repository is the storage gateway for coupons. Create and Update must be
// atomic across the coupon, discount and restriction rows.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindActive(ctx context.Context, now time.Time) ([]Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, id string, upd Update) (*Coupon, error)
	Delete(ctx context.Context, id string) error
}
