package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/couponengine/coupon-engine/internal/domain/redemption"
)

const (
	selectRedemptionSQL = `SELECT id, coupon_id, user_id, order_id, purchase_amount, discount_amount,
		status, created_at, updated_at
		FROM coupon_redemptions`

	selectHistorySQL = `SELECT status, created_at FROM coupon_redemption_status_history
		WHERE redemption_id = $1 ORDER BY id`

	countRedemptionsSQL = `SELECT count(*) FROM coupon_redemptions
		WHERE coupon_id = $1 AND status = ANY($2) AND ($3::text = '' OR user_id = $3)`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions
		(id, coupon_id, user_id, order_id, purchase_amount, discount_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertHistorySQL = `INSERT INTO coupon_redemption_status_history (redemption_id, status, created_at)
		VALUES ($1, $2, $3)`

	lockBlockedSQL = `SELECT id FROM coupon_redemptions
		WHERE user_id = $1 AND order_id = $2 AND status = $3 FOR UPDATE`

	updateStatusSQL = `UPDATE coupon_redemptions SET status = $2, updated_at = $3 WHERE id = $1`
)

var _ redemption.Repository = (*RedemptionRepository)(nil)

// RedemptionRepository implements redemption.Repository backed by PostgreSQL.
type RedemptionRepository struct {
	pool *pgxpool.Pool
}

// NewRedemptionRepository returns a RedemptionRepository that uses the given pool.
func NewRedemptionRepository(pool *pgxpool.Pool) *RedemptionRepository {
	return &RedemptionRepository{pool: pool}
}

// CountRedemptions counts redemptions of couponID in any of statuses, for
// userID only when it is not empty.
func (r *RedemptionRepository) CountRedemptions(ctx context.Context, couponID string, statuses []redemption.Status, userID string) (int, error) {
	names := lo.Map(statuses, func(s redemption.Status, _ int) string { return string(s) })

	var n int64
	if err := r.pool.QueryRow(ctx, countRedemptionsSQL, couponID, names, userID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count redemptions of %s", couponID)
	}
	return int(n), nil
}

// CreateBlocked inserts the redemption and its first history entry in one
// transaction.
func (r *RedemptionRepository) CreateBlocked(ctx context.Context, rd *redemption.Redemption) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRedemptionSQL,
			rd.ID, rd.CouponID, rd.UserID, rd.OrderID, rd.PurchaseAmount, rd.DiscountAmount,
			string(rd.Status), rd.CreatedAt, rd.UpdatedAt,
		); err != nil {
			return err
		}
		for _, h := range rd.History {
			if err := appendHistory(ctx, tx, rd.ID, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return redemption.ErrConflict
		}
		return errors.Wrapf(err, "create redemption for order %q", rd.OrderID)
	}
	return nil
}

// FindBlocked returns the BLOCKED redemption of (userID, orderID).
func (r *RedemptionRepository) FindBlocked(ctx context.Context, userID, orderID string) (*redemption.Redemption, error) {
	return findRedemption(ctx, r.pool,
		selectRedemptionSQL+` WHERE user_id = $1 AND order_id = $2 AND status = $3`,
		userID, orderID, string(redemption.StatusBlocked))
}

// CompleteBlocked locks the BLOCKED redemption of (userID, orderID), marks
// it COMPLETED and records the transition. Concurrent claims serialize on
// the row lock; the loser sees no BLOCKED row.
func (r *RedemptionRepository) CompleteBlocked(ctx context.Context, userID, orderID string, at time.Time) (*redemption.Redemption, error) {
	var out *redemption.Redemption
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, lockBlockedSQL, userID, orderID, string(redemption.StatusBlocked)).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return redemption.ErrNotFound
			}
			return err
		}

		if _, err := tx.Exec(ctx, updateStatusSQL, id, string(redemption.StatusCompleted), at); err != nil {
			return err
		}
		change := redemption.StatusChange{Status: redemption.StatusCompleted, CreatedAt: at}
		if err := appendHistory(ctx, tx, id, change); err != nil {
			return err
		}

		out, err = findRedemption(ctx, tx, selectRedemptionSQL+` WHERE id = $1`, id)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, redemption.ErrNotFound):
			return nil, redemption.ErrNotFound
		case pgCode(err) == codeUniqueViolation:
			return nil, redemption.ErrConflict
		}
		return nil, errors.Wrapf(err, "complete redemption for order %q", orderID)
	}
	return out, nil
}

// FindByID returns the redemption with its status history.
func (r *RedemptionRepository) FindByID(ctx context.Context, id string) (*redemption.Redemption, error) {
	return findRedemption(ctx, r.pool, selectRedemptionSQL+` WHERE id = $1`, id)
}

func appendHistory(ctx context.Context, q querier, redemptionID string, h redemption.StatusChange) error {
	_, err := q.Exec(ctx, insertHistorySQL, redemptionID, string(h.Status), h.CreatedAt)
	return err
}

func findRedemption(ctx context.Context, q querier, sql string, args ...any) (*redemption.Redemption, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query redemption")
	}
	rd, err := pgx.CollectExactlyOneRow(rows, scanRedemption)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, redemption.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan redemption")
	}

	rows, err = q.Query(ctx, selectHistorySQL, rd.ID)
	if err != nil {
		return nil, errors.Wrap(err, "query status history")
	}
	rd.History, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (redemption.StatusChange, error) {
		var (
			h      redemption.StatusChange
			status string
		)
		err := row.Scan(&status, &h.CreatedAt)
		h.Status = redemption.Status(status)
		return h, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan status history")
	}
	return &rd, nil
}

func scanRedemption(row pgx.CollectableRow) (redemption.Redemption, error) {
	var (
		rd     redemption.Redemption
		status string
	)
	err := row.Scan(
		&rd.ID, &rd.CouponID, &rd.UserID, &rd.OrderID, &rd.PurchaseAmount, &rd.DiscountAmount,
		&status, &rd.CreatedAt, &rd.UpdatedAt,
	)
	rd.Status = redemption.Status(status)
	return rd, err
}
