package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/couponengine/coupon-engine/internal/domain/coupon"
)

const (
	selectCouponSQL = `SELECT c.id, c.code, c.description, c.start_date, c.end_date, c.active,
		c.created_at, c.updated_at,
		COALESCE(d.discount_type, ''), COALESCE(d.discount_value, 0)
		FROM coupons c
		LEFT JOIN coupon_discount_details d ON d.coupon_id = c.id`

	selectRestrictionsSQL = `SELECT id, coupon_id, restriction_type, "values", minimum_amount, max_uses
		FROM coupon_restrictions WHERE coupon_id = ANY($1) ORDER BY coupon_id, seq`

	insertCouponSQL = `INSERT INTO coupons (id, code, description, start_date, end_date, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	upsertDiscountSQL = `INSERT INTO coupon_discount_details (coupon_id, discount_type, discount_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (coupon_id) DO UPDATE
		SET discount_type = EXCLUDED.discount_type, discount_value = EXCLUDED.discount_value`

	upsertRestrictionSQL = `INSERT INTO coupon_restrictions (id, coupon_id, restriction_type, "values", minimum_amount, max_uses)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (coupon_id, restriction_type) DO UPDATE
		SET "values" = EXCLUDED."values", minimum_amount = EXCLUDED.minimum_amount, max_uses = EXCLUDED.max_uses`

	deleteOtherRestrictionsSQL = `DELETE FROM coupon_restrictions
		WHERE coupon_id = $1 AND NOT (restriction_type = ANY($2))`

	lockCouponSQL = `SELECT id FROM coupons WHERE id = $1 FOR UPDATE`

	updateCouponSQL = `UPDATE coupons SET
		code = COALESCE($2, code),
		description = COALESCE($3, description),
		start_date = COALESCE($4, start_date),
		end_date = COALESCE($5, end_date),
		active = COALESCE($6, active),
		updated_at = $7
		WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool, now: time.Now}
}

// FindByID returns the coupon with its discount details and restrictions.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return findOne(ctx, r.pool, selectCouponSQL+` WHERE c.id = $1`, id)
}

// FindByCode looks up a coupon by its exact code regardless of status.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return findOne(ctx, r.pool, selectCouponSQL+` WHERE c.code = $1`, code)
}

// FindActive returns active coupons whose validity window contains now.
func (r *CouponRepository) FindActive(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	return findMany(ctx, r.pool,
		selectCouponSQL+` WHERE c.active AND c.start_date <= $1 AND c.end_date >= $1 ORDER BY c.created_at, c.id`,
		now)
}

// List returns every coupon ordered by creation time.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	return findMany(ctx, r.pool, selectCouponSQL+` ORDER BY c.created_at, c.id`)
}

// Create inserts the coupon, its discount details and restrictions in one
// transaction. Restrictions keep the order of c.Restrictions.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertCouponSQL,
			c.ID, c.Code, c.Description, c.StartDate, c.EndDate, c.Active, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return err
		}
		if err := upsertDiscount(ctx, tx, c.ID, c.Discount); err != nil {
			return err
		}
		return upsertRestrictions(ctx, tx, c.ID, c.Restrictions)
	})
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return coupon.ErrCodeTaken
		}
		return errors.Wrapf(err, "create coupon %q", c.Code)
	}
	return nil
}

// Update applies upd in one transaction and returns the stored result.
func (r *CouponRepository) Update(ctx context.Context, id string, upd coupon.Update) (*coupon.Coupon, error) {
	var out *coupon.Coupon
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, lockCouponSQL, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return coupon.ErrNotFound
			}
			return err
		}

		if _, err := tx.Exec(ctx, updateCouponSQL,
			id, upd.Code, upd.Description, upd.StartDate, upd.EndDate, upd.Active, r.now(),
		); err != nil {
			return err
		}
		if upd.Discount != nil {
			if err := upsertDiscount(ctx, tx, id, *upd.Discount); err != nil {
				return err
			}
		}
		if upd.Restrictions != nil {
			if err := replaceRestrictions(ctx, tx, id, upd.Restrictions); err != nil {
				return err
			}
		}

		var err error
		out, err = findOne(ctx, tx, selectCouponSQL+` WHERE c.id = $1`, id)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			return nil, coupon.ErrNotFound
		case pgCode(err) == codeUniqueViolation:
			return nil, coupon.ErrCodeTaken
		}
		return nil, errors.Wrapf(err, "update coupon %s", id)
	}
	return out, nil
}

// Delete removes a coupon and, by cascade, its discount details and
// restrictions. Returns coupon.ErrInUse when redemptions reference it.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return coupon.ErrInUse
		}
		return errors.Wrapf(err, "delete coupon %s", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func upsertDiscount(ctx context.Context, q querier, couponID string, d coupon.DiscountDetails) error {
	_, err := q.Exec(ctx, upsertDiscountSQL, couponID, string(d.Type), d.Value)
	return err
}

func upsertRestrictions(ctx context.Context, q querier, couponID string, rs []coupon.Restriction) error {
	for _, r := range rs {
		if _, err := q.Exec(ctx, upsertRestrictionSQL,
			r.ID, couponID, string(r.Type), append([]string{}, r.Values...), r.MinimumAmount, r.Limit,
		); err != nil {
			return err
		}
	}
	return nil
}

// replaceRestrictions drops restriction types absent from rs and upserts the
// rest by type. Kept types retain their id and position.
func replaceRestrictions(ctx context.Context, q querier, couponID string, rs []coupon.Restriction) error {
	types := lo.Map(rs, func(r coupon.Restriction, _ int) string { return string(r.Type) })
	if _, err := q.Exec(ctx, deleteOtherRestrictionsSQL, couponID, types); err != nil {
		return err
	}
	return upsertRestrictions(ctx, q, couponID, rs)
}

func findOne(ctx context.Context, q querier, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query coupon")
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan coupon")
	}

	out := []coupon.Coupon{c}
	if err := loadRestrictions(ctx, q, out); err != nil {
		return nil, err
	}
	return &out[0], nil
}

func findMany(ctx context.Context, q querier, sql string, args ...any) ([]coupon.Coupon, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query coupons")
	}
	cs, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "scan coupons")
	}
	if err := loadRestrictions(ctx, q, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

type restrictionRow struct {
	couponID string
	coupon.Restriction
}

func loadRestrictions(ctx context.Context, q querier, cs []coupon.Coupon) error {
	if len(cs) == 0 {
		return nil
	}
	ids := lo.Map(cs, func(c coupon.Coupon, _ int) string { return c.ID })

	rows, err := q.Query(ctx, selectRestrictionsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "query restrictions")
	}
	rs, err := pgx.CollectRows(rows, scanRestriction)
	if err != nil {
		return errors.Wrap(err, "scan restrictions")
	}

	byCoupon := lo.GroupBy(rs, func(r restrictionRow) string { return r.couponID })
	for i := range cs {
		cs[i].Restrictions = lo.Map(byCoupon[cs[i].ID], func(r restrictionRow, _ int) coupon.Restriction {
			return r.Restriction
		})
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &c.StartDate, &c.EndDate, &c.Active,
		&c.CreatedAt, &c.UpdatedAt, &discountType, &c.Discount.Value,
	)
	c.Discount.Type = coupon.DiscountType(discountType)
	return c, err
}

func scanRestriction(row pgx.CollectableRow) (restrictionRow, error) {
	var (
		r       restrictionRow
		typ     string
		minimum decimal.Decimal
		maxUses int32
		values  []string
	)
	err := row.Scan(&r.ID, &r.couponID, &typ, &values, &minimum, &maxUses)
	r.Type = coupon.RestrictionType(typ)
	r.Values = values
	r.MinimumAmount = minimum
	r.Limit = int(maxUses)
	return r, err
}
