package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Catalog manages coupon definitions.
type Catalog struct {
	repo Repository
	now  func() time.Time
}

// NewCatalog creates a Catalog backed by the given Repository.
func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo, now: time.Now}
}

// Create validates c, assigns identifiers and persists the coupon together
// with its discount details and restrictions.
func (s *Catalog) Create(ctx context.Context, c Coupon) (*Coupon, error) {
	c.Code = strings.TrimSpace(c.Code)
	if c.Code == "" {
		return nil, errors.Wrap(ErrInvalid, "code is required")
	}
	if c.EndDate.Before(c.StartDate) {
		return nil, errors.Wrap(ErrInvalid, "endDate is before startDate")
	}
	if err := validateDiscount(c.Discount); err != nil {
		return nil, err
	}
	if err := validateRestrictions(c.Restrictions); err != nil {
		return nil, err
	}

	now := s.now()
	c.ID = uuid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Restrictions = assignRestrictionIDs(c.Restrictions)

	if err := s.repo.Create(ctx, &c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return &c, nil
}

// Update applies upd to the coupon with the given id. When upd carries a
// restriction set, restriction types missing from it are removed and the
// others are replaced by type.
func (s *Catalog) Update(ctx context.Context, id string, upd Update) (*Coupon, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Code != nil {
		code := strings.TrimSpace(*upd.Code)
		if code == "" {
			return nil, errors.Wrap(ErrInvalid, "code is required")
		}
		upd.Code = &code
	}

	start, end := current.StartDate, current.EndDate
	if upd.StartDate != nil {
		start = *upd.StartDate
	}
	if upd.EndDate != nil {
		end = *upd.EndDate
	}
	if end.Before(start) {
		return nil, errors.Wrap(ErrInvalid, "endDate is before startDate")
	}

	if upd.Discount != nil {
		if err := validateDiscount(*upd.Discount); err != nil {
			return nil, err
		}
	}
	if upd.Restrictions != nil {
		if err := validateRestrictions(upd.Restrictions); err != nil {
			return nil, err
		}
		upd.Restrictions = assignRestrictionIDs(upd.Restrictions)
	}

	updated, err := s.repo.Update(ctx, id, upd)
	if err != nil {
		return nil, errors.Wrapf(err, "update coupon %s", id)
	}
	return updated, nil
}

// Delete removes a coupon. Coupons referenced by redemptions cannot be
// deleted.
func (s *Catalog) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrapf(err, "delete coupon %s", id)
	}
	return nil
}

// Get returns a coupon by id.
func (s *Catalog) Get(ctx context.Context, id string) (*Coupon, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns every coupon regardless of status.
func (s *Catalog) List(ctx context.Context) ([]Coupon, error) {
	return s.repo.List(ctx)
}

func validateDiscount(d DiscountDetails) error {
	if !d.Type.Known() {
		return errors.Wrapf(ErrInvalid, "discount type %q", string(d.Type))
	}
	return CheckAmount("discount value", d.Value)
}

func validateRestrictions(rs []Restriction) error {
	seen := make(map[RestrictionType]struct{}, len(rs))
	for _, r := range rs {
		if !r.Type.Known() {
			return errors.Wrapf(ErrInvalid, "restriction type %q", string(r.Type))
		}
		if _, dup := seen[r.Type]; dup {
			return errors.Wrapf(ErrInvalid, "duplicate %s restriction", r.Type)
		}
		seen[r.Type] = struct{}{}

		switch {
		case r.Type.Membership():
			if len(r.Values) == 0 {
				return errors.Wrapf(ErrInvalid, "%s restriction needs at least one value", r.Type)
			}
		case r.Type == RestrictionMinimumPurchase:
			if err := CheckAmount("minimum amount", r.MinimumAmount); err != nil {
				return err
			}
		case r.Type.UsageBound():
			if r.Limit <= 0 || r.Limit > MaxLimit {
				return errors.Wrapf(ErrInvalid, "%s limit must be between 1 and %d", r.Type, MaxLimit)
			}
		}
	}
	return nil
}

func assignRestrictionIDs(rs []Restriction) []Restriction {
	return lo.Map(rs, func(r Restriction, _ int) Restriction {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		return r
	})
}
