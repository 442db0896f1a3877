package handlers

import (
	"errors"
	"net/http"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/invoice"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/pricing"
	"github.com/orderdesk/orderdesk/internal/printer"
	"github.com/orderdesk/orderdesk/internal/services"
)

// errorStatuses is checked in order; the first sentinel the error wraps wins.
var errorStatuses = []struct {
	target error
	status int
}{
	{services.ErrValidation, http.StatusBadRequest},
	{pricing.ErrEmptyCart, http.StatusBadRequest},
	{pricing.ErrInvalidItem, http.StatusBadRequest},
	{pricing.ErrCouponInvalid, http.StatusBadRequest},
	{pricing.ErrCouponNotApplicable, http.StatusBadRequest},
	{models.ErrUnknownStatus, http.StatusBadRequest},
	{invoice.ErrUnknownLayout, http.StatusBadRequest},
	{invoice.ErrUnknownFormat, http.StatusBadRequest},
	{printer.ErrEmptyPayload, http.StatusBadRequest},

	{services.ErrInvalidCredentials, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},

	{services.ErrPaymentNotSucceeded, http.StatusPaymentRequired},

	{services.ErrForbidden, http.StatusForbidden},

	{db.ErrNotFound, http.StatusNotFound},
	{printer.ErrPrinterNotFound, http.StatusNotFound},

	{models.ErrInvalidStatusTransition, http.StatusConflict},
	{db.ErrCouponExhausted, http.StatusConflict},
	{db.ErrConflict, http.StatusConflict},
	{db.ErrInUse, http.StatusConflict},
	{db.ErrConstraint, http.StatusConflict},
	{services.ErrEmailTaken, http.StatusConflict},
	{services.ErrPaymentMismatch, http.StatusConflict},
	{printer.ErrPrinterDisabled, http.StatusConflict},
	{printer.ErrNoPrinterOfType, http.StatusConflict},

	{services.ErrPaymentProvider, http.StatusBadGateway},
	{services.ErrPaymentUnavailable, http.StatusServiceUnavailable},
}

func statusForError(err error) int {
	for _, candidate := range errorStatuses {
		if errors.Is(err, candidate.target) {
			return candidate.status
		}
	}
	return http.StatusInternalServerError
}

// writeServiceError maps service errors to HTTP responses. Server errors are
// logged and their detail is never sent to the client.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	logger := h.loggerFromContext(r.Context())

	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Error("request failed", "error", err, "status", status)
		if status == http.StatusBadGateway {
			writeError(w, status, "payment provider error")
			return
		}
		writeError(w, status, "internal server error")
	case status == http.StatusNotFound && errors.Is(err, db.ErrNotFound):
		writeError(w, status, "not found")
	default:
		logger.Info("request rejected", "error", err, "status", status)
		writeError(w, status, err.Error())
	}
}
