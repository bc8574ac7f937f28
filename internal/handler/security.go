package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/couponengine/coupon-engine/internal/domain/auth"
)

// HeaderAPIKey carries the raw admin API key.
const HeaderAPIKey = "api_key"

// RequireAPIKey rejects requests whose api_key header does not authenticate
// or whose key lacks scope.
func RequireAPIKey(a Authenticator, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := a.Authenticate(r.Context(), r.Header.Get(HeaderAPIKey))
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !info.HasScope(scope) {
				writeError(w, r, auth.ErrForbidden)
				return
			}
			ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
