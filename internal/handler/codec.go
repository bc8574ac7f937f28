package handler

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/couponengine/coupon-engine/internal/domain/coupon"
	"github.com/couponengine/coupon-engine/internal/domain/redemption"
)

// valueKey is the restrictionValue field carrying the payload of each
// restriction type.
var valueKey = map[coupon.RestrictionType]string{
	coupon.RestrictionProduct:         "productIds",
	coupon.RestrictionCategory:        "categoryIds",
	coupon.RestrictionUserGroup:       "userGroupIds",
	coupon.RestrictionLocationCode:    "locationCodes",
	coupon.RestrictionPaymentMethod:   "paymentMethodIds",
	coupon.RestrictionChannel:         "channelIds",
	coupon.RestrictionMinimumPurchase: "minimumAmount",
	coupon.RestrictionMaxUses:         "maxUses",
	coupon.RestrictionMaxUsesPerUser:  "maxUses",
}

// --- Decoding ---

// CouponInput is the decoded body of coupon create and update requests.
// Absent fields stay nil.
type CouponInput struct {
	Code         *string
	Description  *string
	StartDate    *time.Time
	EndDate      *time.Time
	Active       *bool
	Discount     *coupon.DiscountDetails
	Restrictions []coupon.Restriction
}

// Coupon converts a create request. Missing required fields yield
// coupon.ErrInvalid; coupons are active unless isActive is false.
func (in CouponInput) Coupon() (coupon.Coupon, error) {
	switch {
	case in.Code == nil:
		return coupon.Coupon{}, errors.Wrap(coupon.ErrInvalid, "code is required")
	case in.StartDate == nil || in.EndDate == nil:
		return coupon.Coupon{}, errors.Wrap(coupon.ErrInvalid, "startDate and endDate are required")
	case in.Discount == nil:
		return coupon.Coupon{}, errors.Wrap(coupon.ErrInvalid, "discountDetails is required")
	}
	c := coupon.Coupon{
		Code:         *in.Code,
		StartDate:    *in.StartDate,
		EndDate:      *in.EndDate,
		Active:       in.Active == nil || *in.Active,
		Discount:     *in.Discount,
		Restrictions: in.Restrictions,
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	return c, nil
}

// Update converts an update request.
func (in CouponInput) Update() coupon.Update {
	return coupon.Update{
		Code:         in.Code,
		Description:  in.Description,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		Active:       in.Active,
		Discount:     in.Discount,
		Restrictions: in.Restrictions,
	}
}

// DecodeCoupon parses a coupon definition. A present "restrictions" array
// decodes to a non-nil slice even when empty.
func DecodeCoupon(d *jx.Decoder) (CouponInput, error) {
	var in CouponInput
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		switch string(key) {
		case "code":
			return decodeOptStr(d, &in.Code)
		case "description":
			return decodeOptStr(d, &in.Description)
		case "startDate":
			t, err := decodeTime(d, false)
			if err != nil {
				return errors.Wrap(err, "startDate")
			}
			in.StartDate = t
			return nil
		case "endDate":
			t, err := decodeTime(d, true)
			if err != nil {
				return errors.Wrap(err, "endDate")
			}
			in.EndDate = t
			return nil
		case "isActive":
			v, err := d.Bool()
			if err != nil {
				return errors.Wrap(err, "isActive")
			}
			in.Active = &v
			return nil
		case "discountDetails":
			dd, err := decodeDiscount(d)
			if err != nil {
				return errors.Wrap(err, "discountDetails")
			}
			in.Discount = &dd
			return nil
		case "restrictions":
			in.Restrictions = []coupon.Restriction{}
			return d.Arr(func(d *jx.Decoder) error {
				r, err := decodeRestriction(d)
				if err != nil {
					return errors.Wrapf(err, "restrictions[%d]", len(in.Restrictions))
				}
				in.Restrictions = append(in.Restrictions, r)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return in, err
}

func decodeDiscount(d *jx.Decoder) (coupon.DiscountDetails, error) {
	var dd coupon.DiscountDetails
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "discountType":
			s, err := d.Str()
			dd.Type = coupon.DiscountType(s)
			return err
		case "discountValue":
			v, err := decodeDecimal(d)
			dd.Value = v
			return err
		default:
			return d.Skip()
		}
	})
	return dd, err
}

func decodeRestriction(d *jx.Decoder) (coupon.Restriction, error) {
	var (
		r   coupon.Restriction
		raw jx.Raw
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "restrictionType":
			s, err := d.Str()
			r.Type = coupon.RestrictionType(s)
			return err
		case "restrictionValue":
			v, err := d.Raw()
			raw = append(jx.Raw(nil), v...)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return r, err
	}
	if len(raw) == 0 {
		return r, nil
	}

	key, ok := valueKey[r.Type]
	if !ok {
		return r, errors.Wrapf(coupon.ErrInvalid, "restriction type %q", string(r.Type))
	}
	err = jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, k []byte) error {
		if string(k) != key {
			return d.Skip()
		}
		switch {
		case r.Type.Membership():
			r.Values = []string{}
			return d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				r.Values = append(r.Values, s)
				return err
			})
		case r.Type == coupon.RestrictionMinimumPurchase:
			v, err := decodeDecimal(d)
			r.MinimumAmount = v
			return err
		default:
			n, err := d.Int()
			r.Limit = n
			return err
		}
	})
	if err != nil {
		return r, errors.Wrap(err, "restrictionValue")
	}
	return r, nil
}

func decodeOptStr(d *jx.Decoder, dst **string) error {
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = &s
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch tt := d.Next(); tt {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("expected number, got %s", tt)
	}
}

const dateOnly = "2006-01-02"

// decodeTime accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func decodeTime(d *jx.Decoder, endOfDay bool) (*time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return nil, errors.Errorf("invalid date %q: use RFC 3339 or YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// PurchaseInput is the decoded body of block and eligibility requests.
type PurchaseInput struct {
	Code           string
	UserID         string
	OrderID        string
	PurchaseAmount decimal.NullDecimal
	Product        string
	Category       string
	UserGroup      string
	LocationCode   string
	PaymentMethod  string
	Channel        string
}

// Context converts the input to an evaluator context.
func (in PurchaseInput) Context() coupon.PurchaseContext {
	return coupon.PurchaseContext{
		UserID:        in.UserID,
		Product:       in.Product,
		Category:      in.Category,
		UserGroup:     in.UserGroup,
		LocationCode:  in.LocationCode,
		PaymentMethod: in.PaymentMethod,
		Channel:       in.Channel,
		Amount:        in.PurchaseAmount,
	}
}

// BlockRequest converts the input to a block request. code, userId, orderId
// and a purchaseAmount that passes coupon.CheckAmount are required.
func (in PurchaseInput) BlockRequest() (redemption.BlockRequest, error) {
	switch {
	case in.Code == "":
		return redemption.BlockRequest{}, errors.Wrap(coupon.ErrInvalid, "code is required")
	case in.UserID == "" || in.OrderID == "":
		return redemption.BlockRequest{}, errors.Wrap(coupon.ErrInvalid, "userId and orderId are required")
	case !in.PurchaseAmount.Valid:
		return redemption.BlockRequest{}, errors.Wrap(coupon.ErrInvalid, "purchaseAmount is required")
	}
	if err := coupon.CheckAmount("purchaseAmount", in.PurchaseAmount.Decimal); err != nil {
		return redemption.BlockRequest{}, err
	}
	return redemption.BlockRequest{
		Code:           in.Code,
		UserID:         in.UserID,
		OrderID:        in.OrderID,
		PurchaseAmount: in.PurchaseAmount.Decimal,
		Product:        in.Product,
		Category:       in.Category,
		UserGroup:      in.UserGroup,
		LocationCode:   in.LocationCode,
		PaymentMethod:  in.PaymentMethod,
		Channel:        in.Channel,
	}, nil
}

// DecodePurchase parses a purchase context. Null and absent fields are
// treated alike.
func DecodePurchase(d *jx.Decoder) (PurchaseInput, error) {
	var in PurchaseInput
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		var dst *string
		switch string(key) {
		case "code":
			dst = &in.Code
		case "userId":
			dst = &in.UserID
		case "orderId":
			dst = &in.OrderID
		case "product":
			dst = &in.Product
		case "category":
			dst = &in.Category
		case "userGroup":
			dst = &in.UserGroup
		case "locationCode":
			dst = &in.LocationCode
		case "paymentMethod":
			dst = &in.PaymentMethod
		case "channel":
			dst = &in.Channel
		case "purchaseAmount":
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "purchaseAmount")
			}
			in.PurchaseAmount = decimal.NullDecimal{Decimal: v, Valid: true}
			return nil
		default:
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		*dst = s
		return nil
	})
	return in, err
}

// --- Encoding ---

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.String())
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// EncodeCoupon writes c in the same shape DecodeCoupon reads.
func EncodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
	e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
	e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
	e.Field("startDate", func(e *jx.Encoder) { encodeTime(e, c.StartDate) })
	e.Field("endDate", func(e *jx.Encoder) { encodeTime(e, c.EndDate) })
	e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.Active) })
	e.Field("discountDetails", func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.Discount.Type)) })
			e.Field("discountValue", func(e *jx.Encoder) { encodeDecimal(e, c.Discount.Value) })
		})
	})
	e.Field("restrictions", func(e *jx.Encoder) {
		e.ArrStart()
		for _, r := range c.Restrictions {
			encodeRestriction(e, r)
		}
		e.ArrEnd()
	})
	if !c.CreatedAt.IsZero() {
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, c.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, c.UpdatedAt) })
	}
	e.ObjEnd()
}

func encodeRestriction(e *jx.Encoder, r coupon.Restriction) {
	e.ObjStart()
	if r.ID != "" {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
	}
	e.Field("restrictionType", func(e *jx.Encoder) { e.Str(string(r.Type)) })
	if key, ok := valueKey[r.Type]; ok {
		e.Field("restrictionValue", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field(key, func(e *jx.Encoder) {
					switch {
					case r.Type.Membership():
						e.ArrStart()
						for _, v := range r.Values {
							e.Str(v)
						}
						e.ArrEnd()
					case r.Type == coupon.RestrictionMinimumPurchase:
						encodeDecimal(e, r.MinimumAmount)
					default:
						e.Int(r.Limit)
					}
				})
			})
		})
	}
	e.ObjEnd()
}

// EncodeRedemption writes a redemption with its history.
func EncodeRedemption(e *jx.Encoder, r *redemption.Redemption) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
		e.Field("couponId", func(e *jx.Encoder) { e.Str(r.CouponID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(r.UserID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(r.OrderID) })
		e.Field("purchaseAmount", func(e *jx.Encoder) { encodeDecimal(e, r.PurchaseAmount) })
		e.Field("discountAmount", func(e *jx.Encoder) { encodeDecimal(e, r.DiscountAmount) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(r.Status)) })
		e.Field("history", func(e *jx.Encoder) {
			e.ArrStart()
			for _, h := range r.History {
				e.Obj(func(e *jx.Encoder) {
					e.Field("status", func(e *jx.Encoder) { e.Str(string(h.Status)) })
					e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, h.CreatedAt) })
				})
			}
			e.ArrEnd()
		})
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, r.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, r.UpdatedAt) })
	})
}
