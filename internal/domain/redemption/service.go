package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/couponengine/coupon-engine/internal/domain/coupon"
)

// CouponFinder loads a coupon with its discount details and restrictions.
type CouponFinder interface {
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
}

// BlockRequest holds the input for reserving a coupon against an order.
type BlockRequest struct {
	Code           string
	UserID         string
	OrderID        string
	PurchaseAmount decimal.Decimal
	Product        string
	Category       string
	UserGroup      string
	LocationCode   string
	PaymentMethod  string
	Channel        string
}

func (r BlockRequest) purchaseContext() coupon.PurchaseContext {
	return coupon.PurchaseContext{
		UserID:        r.UserID,
		Product:       r.Product,
		Category:      r.Category,
		UserGroup:     r.UserGroup,
		LocationCode:  r.LocationCode,
		PaymentMethod: r.PaymentMethod,
		Channel:       r.Channel,
	}.WithAmount(r.PurchaseAmount)
}

// Option configures a Service.
type Option func(*Service)

// WithLocker serializes the usage count and the insert of a block for
// coupons carrying MAX_USES or MAX_USES_PER_USER. Without a locker, two
// concurrent blocks can both pass the count check and exceed the cap.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("redemption") }
}

// WithMeterProvider sets the meter provider used for outcome counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("redemption") }
}

// Service drives redemptions through BLOCKED -> COMPLETED.
type Service struct {
	coupons CouponFinder
	repo    Repository
	locker  Locker
	tracer  trace.Tracer
	meter   metric.Meter
	now     func() time.Time

	blocked  metric.Int64Counter
	claimed  metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates a redemption Service.
func NewService(coupons CouponFinder, repo Repository, opts ...Option) (*Service, error) {
	s := &Service{
		coupons: coupons,
		repo:    repo,
		tracer:  tracenoop.NewTracerProvider().Tracer("redemption"),
		meter:   metricnoop.NewMeterProvider().Meter("redemption"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.blocked, err = s.meter.Int64Counter("coupon.redemptions.blocked",
		metric.WithDescription("Coupons reserved against an order")); err != nil {
		return nil, errors.Wrap(err, "blocked counter")
	}
	if s.claimed, err = s.meter.Int64Counter("coupon.redemptions.claimed",
		metric.WithDescription("Reservations finalized")); err != nil {
		return nil, errors.Wrap(err, "claimed counter")
	}
	if s.rejected, err = s.meter.Int64Counter("coupon.redemptions.rejected",
		metric.WithDescription("Block or claim attempts that failed")); err != nil {
		return nil, errors.Wrap(err, "rejected counter")
	}
	return s, nil
}

// Block validates the coupon against the request and reserves it for the
// order by creating a BLOCKED redemption. Nothing is written on failure.
func (s *Service) Block(ctx context.Context, req BlockRequest) (_ *Redemption, rerr error) {
	ctx, span := s.tracer.Start(ctx, "redemption.Block", trace.WithAttributes(
		attribute.String("coupon.code", req.Code),
		attribute.String("order.id", req.OrderID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.reject(ctx, "block", rerr)
		}
		span.End()
	}()

	lg := zctx.From(ctx).With(
		zap.String("coupon_code", req.Code),
		zap.String("user_id", req.UserID),
		zap.String("order_id", req.OrderID),
	)

	c, err := s.coupons.FindByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrap(err, "find coupon")
	}

	if c.HasUsageBound() && s.locker != nil {
		unlock, err := s.locker.Lock(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "lock coupon usage")
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				lg.Warn("Release coupon usage lock", zap.Error(err))
			}
		}()
	}

	pc := req.purchaseContext()
	if c.HasUsageBound() {
		usage, err := s.usage(ctx, c, req.UserID)
		if err != nil {
			return nil, err
		}
		pc.Usage = usage
	}

	if err := coupon.Evaluate(c.Restrictions, pc, coupon.Strict); err != nil {
		if coupon.IsIntegrity(err) {
			lg.Error("Coupon data integrity", zap.Error(err))
		} else {
			lg.Info("Coupon rejected", zap.Error(err))
		}
		return nil, err
	}

	discount, err := coupon.Calculate(c.Discount, req.PurchaseAmount)
	if err != nil {
		lg.Error("Coupon data integrity", zap.Error(err))
		return nil, err
	}
	if c.Discount.Type.Placeholder() {
		lg.Warn("Discount type is not priced yet", zap.String("discount_type", string(c.Discount.Type)))
	}

	// Stored amounts carry coupon.MoneyScale places; the returned record
	// matches what a later read sees.
	discount = discount.Round(coupon.MoneyScale)

	now := s.now()
	r := &Redemption{
		ID:             uuid.New().String(),
		CouponID:       c.ID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		PurchaseAmount: req.PurchaseAmount,
		DiscountAmount: discount,
		Status:         StatusBlocked,
		History:        []StatusChange{{Status: StatusBlocked, CreatedAt: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateBlocked(ctx, r); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, errors.Wrap(err, "create redemption")
	}

	s.blocked.Add(ctx, 1)
	lg.Info("Coupon blocked",
		zap.String("redemption_id", r.ID),
		zap.String("discount", r.DiscountAmount.String()),
	)
	return r, nil
}

// Claim completes the BLOCKED redemption of (userID, orderID). A second claim
// for the same pair fails with ErrNotFound.
func (s *Service) Claim(ctx context.Context, userID, orderID string) (_ *Redemption, rerr error) {
	ctx, span := s.tracer.Start(ctx, "redemption.Claim", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.reject(ctx, "claim", rerr)
		}
		span.End()
	}()

	r, err := s.repo.CompleteBlocked(ctx, userID, orderID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, ErrConflict):
			return nil, ErrConflict
		}
		return nil, errors.Wrap(err, "complete redemption")
	}

	s.claimed.Add(ctx, 1)
	zctx.From(ctx).Info("Coupon claimed",
		zap.String("redemption_id", r.ID),
		zap.String("user_id", userID),
		zap.String("order_id", orderID),
	)
	return r, nil
}

// Get returns a redemption with its status history.
func (s *Service) Get(ctx context.Context, id string) (*Redemption, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) usage(ctx context.Context, c *coupon.Coupon, userID string) (*coupon.Usage, error) {
	var u coupon.Usage
	if _, ok := c.Restriction(coupon.RestrictionMaxUses); ok {
		n, err := s.repo.CountRedemptions(ctx, c.ID, Counted, "")
		if err != nil {
			return nil, errors.Wrap(err, "count coupon redemptions")
		}
		u.Total = n
	}
	if _, ok := c.Restriction(coupon.RestrictionMaxUsesPerUser); ok && userID != "" {
		n, err := s.repo.CountRedemptions(ctx, c.ID, Counted, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count user redemptions")
		}
		u.PerUser = n
	}
	return &u, nil
}

func (s *Service) reject(ctx context.Context, op string, err error) {
	s.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("reason", reason(err)),
	))
}

func reason(err error) string {
	switch {
	case errors.Is(err, coupon.ErrNotFound), errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, coupon.ErrRestrictionViolation):
		return "restriction"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case coupon.IsIntegrity(err):
		return "integrity"
	default:
		return "internal"
	}
}
