package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the state of a redemption. BLOCKED is the initial reservation,
// COMPLETED is terminal.
type Status string

const (
	StatusBlocked   Status = "BLOCKED"
	StatusCompleted Status = "COMPLETED"
)

// Counted lists the statuses that consume a coupon use.
var Counted = []Status{StatusBlocked, StatusCompleted}

var (
	// ErrNotFound is returned when no redemption matches, including a claim
	// for a (user, order) pair with no BLOCKED redemption.
	ErrNotFound = errors.New("redemption not found")
	// ErrConflict is returned when a redemption with the same user, order
	// and status already exists.
	ErrConflict = errors.New("redemption already exists for this user and order")
	// ErrBusy is returned when the coupon usage lock could not be taken in
	// time. The caller may retry.
	ErrBusy = errors.New("coupon usage is busy")
)

// StatusChange is one entry of a redemption's append-only audit log.
type StatusChange struct {
	Status    Status
	CreatedAt time.Time
}

// Redemption records one application of a coupon to a user's order.
type Redemption struct {
	ID             string
	CouponID       string
	UserID         string
	OrderID        string
	PurchaseAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	Status         Status
	History        []StatusChange
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository is the storage gateway for redemptions.
type Repository interface {
	// CountRedemptions counts redemptions of a coupon in any of statuses,
	// restricted to userID when it is not empty.
	CountRedemptions(ctx context.Context, couponID string, statuses []Status, userID string) (int, error)
	// CreateBlocked inserts r and its first history entry atomically. It
	// returns ErrConflict when (UserID, OrderID, Status) is already taken.
	CreateBlocked(ctx context.Context, r *Redemption) error
	// FindBlocked returns the BLOCKED redemption for the pair.
	FindBlocked(ctx context.Context, userID, orderID string) (*Redemption, error)
	// CompleteBlocked finds the BLOCKED redemption for the pair, marks it
	// COMPLETED and appends a history entry, all in one transaction.
	CompleteBlocked(ctx context.Context, userID, orderID string, at time.Time) (*Redemption, error)
	FindByID(ctx context.Context, id string) (*Redemption, error)
}

// Locker serializes work keyed by a string across processes. Lock returns an
// error matching ErrBusy when the lock stays taken past its wait.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}
