package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/couponengine/coupon-engine/internal/domain/auth"
	"github.com/couponengine/coupon-engine/internal/domain/coupon"
	"github.com/couponengine/coupon-engine/internal/domain/redemption"
)

// retryAfterSeconds is sent with 503 responses for a busy coupon.
const retryAfterSeconds = "1"

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, coupon.ErrNotFound), errors.Is(err, redemption.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coupon.ErrCodeTaken), errors.Is(err, coupon.ErrInUse),
		errors.Is(err, redemption.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, coupon.ErrRestrictionViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coupon.ErrInvalid), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, redemption.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes {"code","message"} plus the restriction and missing
// field of a violation. Internal errors are logged and their text withheld.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	var ve *coupon.ViolationError
	isViolation := errors.As(err, &ve)

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			if isViolation {
				e.Field("restriction", func(e *jx.Encoder) { e.Str(string(ve.Restriction)) })
				if ve.Missing() {
					e.Field("field", func(e *jx.Encoder) { e.Str(ve.Field) })
				}
			}
		})
	})
}
