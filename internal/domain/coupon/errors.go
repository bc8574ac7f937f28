package coupon

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a coupon id or code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeTaken is returned when another coupon already uses the code.
	ErrCodeTaken = errors.New("coupon code already exists")
	// ErrInUse is returned when deleting a coupon that redemptions reference.
	ErrInUse = errors.New("coupon has redemptions")
	// ErrInvalid is returned when a coupon definition breaks a catalog rule.
	ErrInvalid = errors.New("invalid coupon")
	// ErrRestrictionViolation matches every *ViolationError.
	ErrRestrictionViolation = errors.New("restriction violation")
)

// ViolationError reports the restriction that rejected a purchase context.
// Field is set when the context lacked a value the restriction requires.
type ViolationError struct {
	Restriction RestrictionType
	Field       string
	Message     string
}

func (e *ViolationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrRestrictionViolation) hold.
func (e *ViolationError) Is(target error) bool {
	return target == ErrRestrictionViolation
}

// Missing reports whether the violation was caused by an absent context field.
func (e *ViolationError) Missing() bool {
	return e.Field != ""
}

func missingContext(t RestrictionType, field string) *ViolationError {
	return &ViolationError{
		Restriction: t,
		Field:       field,
		Message:     fmt.Sprintf("missing required context %q for %s restriction", field, t),
	}
}

func violation(t RestrictionType, format string, args ...any) *ViolationError {
	return &ViolationError{
		Restriction: t,
		Message:     fmt.Sprintf(format, args...),
	}
}

// UnsupportedRestrictionError is a data integrity failure: the stored
// restriction type is not one the evaluator knows.
type UnsupportedRestrictionError struct {
	Type RestrictionType
}

func (e *UnsupportedRestrictionError) Error() string {
	return fmt.Sprintf("unsupported restriction type %q", string(e.Type))
}

// UnknownDiscountTypeError is a data integrity failure: the stored discount
// type is not one the calculator knows.
type UnknownDiscountTypeError struct {
	Type DiscountType
}

func (e *UnknownDiscountTypeError) Error() string {
	return fmt.Sprintf("unknown discount type %q", string(e.Type))
}

// IsIntegrity reports whether err signals a data-model mismatch rather than a
// legitimate rejection.
func IsIntegrity(err error) bool {
	var (
		ur *UnsupportedRestrictionError
		ud *UnknownDiscountTypeError
	)
	return errors.As(err, &ur) || errors.As(err, &ud)
}
