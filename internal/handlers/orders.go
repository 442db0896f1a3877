package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", services.ErrValidation, name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", services.ErrValidation, name)
	}
	return value, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit", defaultPageSize); err != nil {
		return 0, 0, err
	}
	switch {
	case limit == 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	if offset, err = queryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// orderFilter reads the admin list filters from the query string.
func orderFilter(r *http.Request) (db.OrderFilter, error) {
	limit, offset, err := pagination(r)
	if err != nil {
		return db.OrderFilter{}, err
	}
	filter := db.OrderFilter{Limit: limit, Offset: offset}

	query := r.URL.Query()
	if status := strings.TrimSpace(query.Get("status")); status != "" {
		filter.Status = models.OrderStatus(status)
		if filter.Status != models.StatusPending {
			if _, err := models.ParseRequestedStatus(status); err != nil {
				return db.OrderFilter{}, err
			}
		}
	}
	switch paymentStatus := models.PaymentStatus(strings.TrimSpace(query.Get("payment_status"))); paymentStatus {
	case "":
	case models.PaymentPending, models.PaymentPaid:
		filter.PaymentStatus = paymentStatus
	default:
		return db.OrderFilter{}, fmt.Errorf("%w: unknown payment_status %q", services.ErrValidation, paymentStatus)
	}
	if raw := strings.TrimSpace(query.Get("delivery_user_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return db.OrderFilter{}, fmt.Errorf("%w: delivery_user_id is not a valid id", services.ErrValidation)
		}
		filter.DeliveryUserID = &id
	}
	return filter, nil
}

func (h *Handlers) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var input services.QuoteInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	quote, err := h.orders.Quote(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, quote)
}

func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var input services.QuoteInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	result, err := h.orders.CreatePaymentIntent(r.Context(), principal(r), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var input services.CreateOrderInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	order, err := h.orders.Create(r.Context(), principal(r), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, order)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	order, err := h.orders.Get(r.Context(), principal(r), orderID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, order)
}

func (h *Handlers) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	orders, err := h.orders.ListMine(r.Context(), principal(r), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nonNil(orders))
}

func (h *Handlers) ListAssignedOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := orderFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	orders, err := h.orders.ListAssigned(r.Context(), principal(r), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nonNil(orders))
}

func (h *Handlers) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := orderFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	orders, err := h.orders.ListAll(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nonNil(orders))
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var input services.StatusUpdateInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	order, err := h.delivery.UpdateStatus(r.Context(), principal(r), orderID, input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, order)
}

func (h *Handlers) UpdateOrderLocation(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var input services.LocationInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	location, err := h.delivery.UpdateLocation(r.Context(), principal(r), orderID, input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, location)
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var input confirmPaymentRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &input); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	order, err := h.payments.Confirm(r.Context(), principal(r), orderID, strings.TrimSpace(input.PaymentIntentID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, order)
}

// TrackOrder upgrades to a websocket that streams status and location updates
// for one order.
func (h *Handlers) TrackOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if _, err := h.orders.Get(r.Context(), principal(r), orderID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.tracker.Serve(w, r, orderID)
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
