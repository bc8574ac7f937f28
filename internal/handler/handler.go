// Package handler exposes the coupon engine over HTTP.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/couponengine/coupon-engine/internal/domain/auth"
	"github.com/couponengine/coupon-engine/internal/domain/coupon"
	"github.com/couponengine/coupon-engine/internal/domain/redemption"
	"github.com/couponengine/coupon-engine/pkg/httpmiddleware"
)

const maxBodyBytes = 1 << 20

// Catalog manages coupon definitions.
type Catalog interface {
	Create(ctx context.Context, c coupon.Coupon) (*coupon.Coupon, error)
	Update(ctx context.Context, id string, upd coupon.Update) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
}

// Eligibility lists coupons a purchase context could use.
type Eligibility interface {
	ListEligible(ctx context.Context, pc coupon.PurchaseContext) ([]coupon.Coupon, error)
}

// Redemptions drives the block and claim lifecycle.
type Redemptions interface {
	Block(ctx context.Context, req redemption.BlockRequest) (*redemption.Redemption, error)
	Claim(ctx context.Context, userID, orderID string) (*redemption.Redemption, error)
	Get(ctx context.Context, id string) (*redemption.Redemption, error)
}

// Authenticator validates admin API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Handler serves the coupon API routes.
type Handler struct {
	catalog     Catalog
	eligibility Eligibility
	redemptions Redemptions
	auth        Authenticator
}

// New creates a Handler with the required domain dependencies.
func New(catalog Catalog, eligibility Eligibility, redemptions Redemptions, authn Authenticator) *Handler {
	return &Handler{
		catalog:     catalog,
		eligibility: eligibility,
		redemptions: redemptions,
		auth:        authn,
	}
}

// Register mounts every API route on mux. Catalog management requires an
// API key with the admin scope.
func (h *Handler) Register(mux *http.ServeMux) {
	admin := RequireAPIKey(h.auth, auth.ScopeAdmin)
	routes := []struct {
		pattern string
		handler http.HandlerFunc
		admin   bool
	}{
		{"POST /api/coupons", h.createCoupon, true},
		{"GET /api/coupons", h.listCoupons, true},
		{"GET /api/coupons/{id}", h.getCoupon, true},
		{"PUT /api/coupons/{id}", h.updateCoupon, true},
		{"DELETE /api/coupons/{id}", h.deleteCoupon, true},
		{"POST /api/coupons/eligible", h.listEligible, false},
		{"POST /api/redemptions/block", h.blockCoupon, false},
		{"POST /api/redemptions/claim", h.claimCoupon, false},
		{"GET /api/redemptions/{id}", h.getRedemption, false},
	}
	for _, rt := range routes {
		var next http.Handler = rt.handler
		if rt.admin {
			next = admin(next)
		}
		mux.Handle(rt.pattern, httpmiddleware.Route(rt.pattern, next))
	}
}

var errBadRequest = errors.New("malformed request body")

// decode reads the request body and hands it to fn. Any failure is reported
// as errBadRequest.
func decode[T any](w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) (T, error)) (T, error) {
	var zero T
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return zero, errors.Wrap(errBadRequest, err.Error())
	}
	v, err := fn(jx.DecodeBytes(body))
	if err != nil {
		if errors.Is(err, coupon.ErrInvalid) {
			return zero, err
		}
		return zero, errors.Wrap(errBadRequest, err.Error())
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeCoupons(e *jx.Encoder, cs []coupon.Coupon) {
	e.ArrStart()
	for i := range cs {
		EncodeCoupon(e, &cs[i])
	}
	e.ArrEnd()
}
