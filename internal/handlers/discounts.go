package handlers

import (
	"net/http"

	"github.com/orderdesk/orderdesk/internal/services"
)

func (h *Handlers) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.discounts.ListCoupons(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nonNil(coupons))
}

func (h *Handlers) GetCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	coupon, err := h.discounts.GetCoupon(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, coupon)
}

func (h *Handlers) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var input services.CouponInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	coupon, err := h.discounts.CreateCoupon(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, coupon)
}

func (h *Handlers) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var input services.CouponInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	coupon, err := h.discounts.UpdateCoupon(r.Context(), id, input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, coupon)
}

func (h *Handlers) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.discounts.DeleteCoupon(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateCouponRequest struct {
	Code  string               `json:"code"`
	Items []services.ItemInput `json:"items"`
}

// ValidateCoupon answers whether a code applies to a cart. An inapplicable
// code is a normal 200 answer with valid=false.
func (h *Handlers) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var input validateCouponRequest
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	quote := services.QuoteInput{Items: input.Items}
	check, err := h.discounts.ValidateCoupon(r.Context(), input.Code, quote.LineItems())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, check)
}

func (h *Handlers) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promotions, err := h.discounts.ListPromotions(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nonNil(promotions))
}

func (h *Handlers) GetPromotion(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	promotion, err := h.discounts.GetPromotion(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, promotion)
}

func (h *Handlers) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var input services.PromotionInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	promotion, err := h.discounts.CreatePromotion(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, promotion)
}

func (h *Handlers) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var input services.PromotionInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	promotion, err := h.discounts.UpdatePromotion(r.Context(), id, input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, promotion)
}

func (h *Handlers) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.discounts.DeletePromotion(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
