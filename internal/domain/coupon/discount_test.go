package coupon

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name     string
		discount DiscountDetails
		amount   decimal.Decimal
		want     decimal.Decimal
	}{
		{
			name:     "percentage 10% of 200",
			discount: DiscountDetails{Type: DiscountPercentage, Value: d("10")},
			amount:   d("200"),
			want:     d("20"),
		},
		{
			name:     "percentage keeps fractional cents",
			discount: DiscountDetails{Type: DiscountPercentage, Value: d("15")},
			amount:   d("99.99"),
			want:     d("14.9985"),
		},
		{
			name:     "percentage of zero purchase",
			discount: DiscountDetails{Type: DiscountPercentage, Value: d("50")},
			amount:   decimal.Zero,
			want:     decimal.Zero,
		},
		{
			name:     "fixed amount ignores purchase amount",
			discount: DiscountDetails{Type: DiscountFixedAmount, Value: d("15")},
			amount:   d("1000"),
			want:     d("15"),
		},
		{
			name:     "fixed amount on small purchase",
			discount: DiscountDetails{Type: DiscountFixedAmount, Value: d("15")},
			amount:   d("3"),
			want:     d("15"),
		},
		{
			name:     "buy x get y free yields zero",
			discount: DiscountDetails{Type: DiscountBuyXGetYFree, Value: d("1")},
			amount:   d("100"),
			want:     decimal.Zero,
		},
		{
			name:     "free shipping yields zero",
			discount: DiscountDetails{Type: DiscountFreeShipping, Value: d("5")},
			amount:   d("100"),
			want:     decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.discount, tt.amount)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestCalculate_UnknownType(t *testing.T) {
	_, err := Calculate(DiscountDetails{Type: "CASHBACK", Value: d("5")}, d("100"))

	var ue *UnknownDiscountTypeError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, DiscountType("CASHBACK"), ue.Type)
	assert.True(t, IsIntegrity(err))
}

func TestDiscountType_Placeholder(t *testing.T) {
	assert.True(t, DiscountBuyXGetYFree.Placeholder())
	assert.True(t, DiscountFreeShipping.Placeholder())
	assert.False(t, DiscountPercentage.Placeholder())
	assert.False(t, DiscountFixedAmount.Placeholder())
}
