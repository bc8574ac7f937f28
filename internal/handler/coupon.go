package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/couponengine/coupon-engine/internal/domain/coupon"
)

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	in, err := decode(w, r, DecodeCoupon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := in.Coupon()
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.catalog.Create(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { EncodeCoupon(e, created) })
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	cs, err := h.catalog.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupons(e, cs) })
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { EncodeCoupon(e, c) })
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	in, err := decode(w, r, DecodeCoupon)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.catalog.Update(r.Context(), r.PathValue("id"), in.Update())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { EncodeCoupon(e, c) })
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEligible(w http.ResponseWriter, r *http.Request) {
	in, err := decode(w, r, DecodePurchase)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cs, err := h.eligibility.ListEligible(r.Context(), in.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cs == nil {
		cs = []coupon.Coupon{}
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupons(e, cs) })
}
