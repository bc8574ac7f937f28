package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCoupon() Coupon {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return Coupon{
		Code:        " SUMMER25 ",
		Description: "summer sale",
		StartDate:   start,
		EndDate:     start.AddDate(0, 3, 0),
		Active:      true,
		Discount:    DiscountDetails{Type: DiscountPercentage, Value: d("25")},
		Restrictions: []Restriction{
			{Type: RestrictionProduct, Values: []string{"p1"}},
			{Type: RestrictionMaxUses, Limit: 100},
		},
	}
}

func TestCatalog_Create(t *testing.T) {
	repo := &mockCouponRepo{}
	c, err := NewCatalog(repo).Create(context.Background(), validCoupon())
	require.NoError(t, err)

	assert.Equal(t, "SUMMER25", c.Code)
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
	require.Len(t, c.Restrictions, 2)
	for _, r := range c.Restrictions {
		assert.NotEmpty(t, r.ID)
	}
	require.NotNil(t, repo.created)
	assert.Equal(t, c.ID, repo.created.ID)
}

func TestCatalog_Create_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Coupon)
	}{
		{"empty code", func(c *Coupon) { c.Code = "  " }},
		{"end before start", func(c *Coupon) { c.EndDate = c.StartDate.Add(-time.Second) }},
		{"unknown discount type", func(c *Coupon) { c.Discount.Type = "CASHBACK" }},
		{"negative discount", func(c *Coupon) { c.Discount.Value = d("-1") }},
		{"unknown restriction type", func(c *Coupon) {
			c.Restrictions = append(c.Restrictions, Restriction{Type: "LOYALTY"})
		}},
		{"duplicate restriction type", func(c *Coupon) {
			c.Restrictions = append(c.Restrictions, Restriction{Type: RestrictionProduct, Values: []string{"p2"}})
		}},
		{"empty membership set", func(c *Coupon) {
			c.Restrictions = []Restriction{{Type: RestrictionChannel}}
		}},
		{"negative minimum", func(c *Coupon) {
			c.Restrictions = []Restriction{{Type: RestrictionMinimumPurchase, MinimumAmount: d("-5")}}
		}},
		{"zero cap", func(c *Coupon) {
			c.Restrictions = []Restriction{{Type: RestrictionMaxUsesPerUser}}
		}},
		{"cap above int32", func(c *Coupon) {
			c.Restrictions = []Restriction{{Type: RestrictionMaxUses, Limit: MaxLimit + 1}}
		}},
		{"discount with three decimals", func(c *Coupon) { c.Discount.Value = d("33.333") }},
		{"minimum with three decimals", func(c *Coupon) {
			c.Restrictions = []Restriction{{Type: RestrictionMinimumPurchase, MinimumAmount: d("49.999")}}
		}},
		{"minimum too large", func(c *Coupon) {
			c.Restrictions = []Restriction{{Type: RestrictionMinimumPurchase, MinimumAmount: d("10000000000")}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCouponRepo{}
			c := validCoupon()
			tt.mutate(&c)

			_, err := NewCatalog(repo).Create(context.Background(), c)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Nil(t, repo.created)
		})
	}
}

func TestCatalog_Create_CodeTaken(t *testing.T) {
	repo := &mockCouponRepo{createErr: ErrCodeTaken}

	_, err := NewCatalog(repo).Create(context.Background(), validCoupon())
	require.ErrorIs(t, err, ErrCodeTaken)
}

func TestCatalog_Update(t *testing.T) {
	existing := validCoupon()
	existing.ID = "c1"
	repo := &mockCouponRepo{
		byID:       map[string]*Coupon{"c1": &existing},
		updateResp: &existing,
	}

	code := " WINTER "
	_, err := NewCatalog(repo).Update(context.Background(), "c1", Update{
		Code:         &code,
		Restrictions: []Restriction{{Type: RestrictionChannel, Values: []string{"WEB"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "c1", repo.updatedID)
	require.NotNil(t, repo.updated.Code)
	assert.Equal(t, "WINTER", *repo.updated.Code)
	require.Len(t, repo.updated.Restrictions, 1)
	assert.NotEmpty(t, repo.updated.Restrictions[0].ID)
}

func TestCatalog_Update_NilRestrictionsUntouched(t *testing.T) {
	existing := validCoupon()
	existing.ID = "c1"
	repo := &mockCouponRepo{
		byID:       map[string]*Coupon{"c1": &existing},
		updateResp: &existing,
	}

	desc := "new"
	_, err := NewCatalog(repo).Update(context.Background(), "c1", Update{Description: &desc})
	require.NoError(t, err)
	assert.Nil(t, repo.updated.Restrictions)
}

func TestCatalog_Update_WindowCheckedAgainstStored(t *testing.T) {
	existing := validCoupon()
	existing.ID = "c1"
	repo := &mockCouponRepo{byID: map[string]*Coupon{"c1": &existing}}

	end := existing.StartDate.Add(-time.Hour)
	_, err := NewCatalog(repo).Update(context.Background(), "c1", Update{EndDate: &end})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Empty(t, repo.updatedID)
}

func TestCatalog_Update_NotFound(t *testing.T) {
	repo := &mockCouponRepo{byID: map[string]*Coupon{}}

	_, err := NewCatalog(repo).Update(context.Background(), "missing", Update{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_Delete(t *testing.T) {
	repo := &mockCouponRepo{}
	require.NoError(t, NewCatalog(repo).Delete(context.Background(), "c1"))
	assert.Equal(t, "c1", repo.deletedID)

	repo.deleteErr = ErrInUse
	err := NewCatalog(repo).Delete(context.Background(), "c1")
	require.ErrorIs(t, err, ErrInUse)
}

func TestCheckAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"0", true},
		{"49.99", true},
		{"10.500", true},
		{"9999999999.99", true},
		{"-0.01", false},
		{"10000000000", false},
		{"3.349", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := CheckAmount("amount", d(tt.value))
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}
