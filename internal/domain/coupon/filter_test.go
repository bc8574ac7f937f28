package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockCouponRepo struct {
	byID      map[string]*Coupon
	active    []Coupon
	activeErr error

	created   *Coupon
	createErr error

	updatedID  string
	updated    Update
	updateResp *Coupon
	updateErr  error

	deletedID string
	deleteErr error
}

func (m *mockCouponRepo) FindByID(_ context.Context, id string) (*Coupon, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	for _, c := range m.byID {
		if c.Code == code {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockCouponRepo) FindActive(_ context.Context, _ time.Time) ([]Coupon, error) {
	return m.active, m.activeErr
}

func (m *mockCouponRepo) List(_ context.Context) ([]Coupon, error) {
	out := make([]Coupon, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockCouponRepo) Create(_ context.Context, c *Coupon) error {
	m.created = c
	return m.createErr
}

func (m *mockCouponRepo) Update(_ context.Context, id string, upd Update) (*Coupon, error) {
	m.updatedID = id
	m.updated = upd
	return m.updateResp, m.updateErr
}

func (m *mockCouponRepo) Delete(_ context.Context, id string) error {
	m.deletedID = id
	return m.deleteErr
}

func newTestFilter(repo Repository, now time.Time) *Filter {
	f := NewFilter(repo, noop.NewTracerProvider().Tracer("test"))
	f.now = func() time.Time { return now }
	return f
}

func TestFilter_ListEligible(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	window := func(code string, start, end time.Time, active bool, rs ...Restriction) Coupon {
		return Coupon{
			ID:           code,
			Code:         code,
			StartDate:    start,
			EndDate:      end,
			Active:       active,
			Discount:     DiscountDetails{Type: DiscountPercentage, Value: d("10")},
			Restrictions: rs,
		}
	}
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	repo := &mockCouponRepo{active: []Coupon{
		window("OPEN", past, future, true),
		window("NOT_STARTED", future, future.Add(time.Hour), true),
		window("ENDED", past.Add(-time.Hour), past, true),
		window("DISABLED", past, future, false),
		window("STARTS_NOW", now, future, true),
		window("ENDS_NOW", past, now, true),
		window("MOBILE_ONLY", past, future, true,
			Restriction{Type: RestrictionChannel, Values: []string{"MOBILE_APP"}}),
		window("SHOES_ONLY", past, future, true,
			Restriction{Type: RestrictionCategory, Values: []string{"shoes"}}),
		window("MIN_100", past, future, true,
			Restriction{Type: RestrictionMinimumPurchase, MinimumAmount: d("100")}),
		window("CAPPED", past, future, true,
			Restriction{Type: RestrictionMaxUses, Limit: 1}),
	}}

	tests := []struct {
		name string
		ctx  PurchaseContext
		want []string
	}{
		{
			name: "absent fields do not exclude",
			ctx:  PurchaseContext{},
			want: []string{"OPEN", "STARTS_NOW", "ENDS_NOW", "MOBILE_ONLY", "SHOES_ONLY", "MIN_100", "CAPPED"},
		},
		{
			name: "present fields that mismatch exclude",
			ctx:  PurchaseContext{Channel: "WEB", Category: "shoes"}.WithAmount(d("20")),
			want: []string{"OPEN", "STARTS_NOW", "ENDS_NOW", "SHOES_ONLY", "CAPPED"},
		},
		{
			name: "everything matches",
			ctx:  PurchaseContext{Channel: "MOBILE_APP", Category: "shoes"}.WithAmount(d("100")),
			want: []string{"OPEN", "STARTS_NOW", "ENDS_NOW", "MOBILE_ONLY", "SHOES_ONLY", "MIN_100", "CAPPED"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestFilter(repo, now).ListEligible(context.Background(), tt.ctx)
			require.NoError(t, err)

			codes := make([]string, len(got))
			for i, c := range got {
				codes[i] = c.Code
			}
			assert.Equal(t, tt.want, codes)
		})
	}
}

func TestFilter_ListEligible_SkipsIntegrityError(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	valid := func(code string, rs ...Restriction) Coupon {
		return Coupon{
			Code:         code,
			Active:       true,
			StartDate:    now.Add(-time.Hour),
			EndDate:      now.Add(time.Hour),
			Restrictions: rs,
		}
	}
	repo := &mockCouponRepo{active: []Coupon{
		valid("BROKEN", Restriction{Type: "UNKNOWN"}),
		valid("OPEN"),
	}}

	core, logs := observer.New(zapcore.ErrorLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	got, err := newTestFilter(repo, now).ListEligible(ctx, PurchaseContext{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "OPEN", got[0].Code)

	entries := logs.FilterMessage("Coupon data integrity").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "BROKEN", entries[0].ContextMap()["coupon_code"])
}

func TestFilter_ListEligible_RepoError(t *testing.T) {
	repo := &mockCouponRepo{activeErr: errors.New("db down")}

	_, err := newTestFilter(repo, time.Now()).ListEligible(context.Background(), PurchaseContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find active coupons")
}
