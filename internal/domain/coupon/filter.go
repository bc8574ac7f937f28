package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Filter lists the coupons a purchase context could use. It never mutates
// state and evaluates restrictions in Loose mode.
type Filter struct {
	repo   Repository
	tracer trace.Tracer
	now    func() time.Time
}

// NewFilter creates a Filter backed by the given Repository.
func NewFilter(repo Repository, tracer trace.Tracer) *Filter {
	return &Filter{repo: repo, tracer: tracer, now: time.Now}
}

// ListEligible returns the coupons that are valid at the current time and
// whose restrictions all pass pc. A coupon whose stored restrictions cannot
// be evaluated is logged and left out.
func (f *Filter) ListEligible(ctx context.Context, pc PurchaseContext) ([]Coupon, error) {
	ctx, span := f.tracer.Start(ctx, "coupon.ListEligible")
	defer span.End()

	now := f.now()
	candidates, err := f.repo.FindActive(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "find active coupons")
	}

	var skipped int
	eligible := make([]Coupon, 0, len(candidates))
	for _, c := range candidates {
		if !c.ValidAt(now) {
			continue
		}
		err := Evaluate(c.Restrictions, pc, Loose)
		switch {
		case err == nil:
			eligible = append(eligible, c)
		case errors.Is(err, ErrRestrictionViolation):
			continue
		default:
			skipped++
			zctx.From(ctx).Error("Coupon data integrity",
				zap.String("coupon_code", c.Code),
				zap.Error(err),
			)
		}
	}

	span.SetAttributes(
		attribute.Int("coupon.candidates", len(candidates)),
		attribute.Int("coupon.eligible", len(eligible)),
		attribute.Int("coupon.skipped", skipped),
	)
	return eligible, nil
}
