package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/couponengine/coupon-engine/internal/domain/coupon"
)

func (h *Handler) blockCoupon(w http.ResponseWriter, r *http.Request) {
	in, err := decode(w, r, DecodePurchase)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := in.BlockRequest()
	if err != nil {
		writeError(w, r, err)
		return
	}

	rd, err := h.redemptions.Block(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { EncodeRedemption(e, rd) })
}

func (h *Handler) claimCoupon(w http.ResponseWriter, r *http.Request) {
	in, err := decode(w, r, DecodePurchase)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if in.UserID == "" || in.OrderID == "" {
		writeError(w, r, errors.Wrap(coupon.ErrInvalid, "userId and orderId are required"))
		return
	}

	rd, err := h.redemptions.Claim(r.Context(), in.UserID, in.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { EncodeRedemption(e, rd) })
}

func (h *Handler) getRedemption(w http.ResponseWriter, r *http.Request) {
	rd, err := h.redemptions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { EncodeRedemption(e, rd) })
}
