package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/orderdesk/orderdesk/internal/invoice"
	"github.com/orderdesk/orderdesk/internal/printer"
	"github.com/orderdesk/orderdesk/internal/services"
)

func (h *Handlers) PrinterStatus(w http.ResponseWriter, r *http.Request) {
	probe, _ := strconv.ParseBool(r.URL.Query().Get("probe"))
	h.writeJSON(w, r, http.StatusOK, h.printing.Status(r.Context(), probe))
}

func (h *Handlers) TestPrinter(w http.ResponseWriter, r *http.Request) {
	result, err := h.printing.Test(r.Context(), mux.Vars(r)["printerId"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, r, status, result)
}

// processBudget keeps a manual drain inside the server's write timeout. Jobs
// that do not fit stay queued and are reported as remaining.
const processBudget = 10 * time.Second

func (h *Handlers) ProcessPrintQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), processBudget)
	defer cancel()
	h.writeJSON(w, r, http.StatusOK, h.printing.Process(ctx))
}

type togglePrinterRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handlers) TogglePrinter(w http.ResponseWriter, r *http.Request) {
	var input togglePrinterRequest
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if input.Enabled == nil {
		h.writeServiceError(w, r, fmt.Errorf("%w: enabled is required", services.ErrValidation))
		return
	}
	status, err := h.printing.Toggle(r.Context(), mux.Vars(r)["printerId"], *input.Enabled)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, status)
}

type enqueueRequest struct {
	OrderID     uuid.UUID `json:"order_id"`
	PrinterType string    `json:"printer_type"`
}

type jobsResponse struct {
	Jobs []printer.Job `json:"jobs"`
}

// EnqueuePrintJob queues receipts for an order. printer_type is kitchen,
// bill or both.
func (h *Handlers) EnqueuePrintJob(w http.ResponseWriter, r *http.Request) {
	var input enqueueRequest
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if input.OrderID == uuid.Nil {
		h.writeServiceError(w, r, fmt.Errorf("%w: order_id is required", services.ErrValidation))
		return
	}
	jobs, err := h.printing.EnqueueOrder(r.Context(), input.OrderID, input.PrinterType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusAccepted, jobsResponse{Jobs: nonNil(jobs)})
}

func (h *Handlers) ClearPrintQueue(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]int{"cleared": h.printing.Clear(r.Context())})
}

type reprintRequest struct {
	PrinterType string `json:"printer_type"`
}

func (h *Handlers) ReprintInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "orderId")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var input reprintRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &input); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	jobs, err := h.printing.Reprint(r.Context(), orderID, input.PrinterType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusAccepted, jobsResponse{Jobs: nonNil(jobs)})
}

// InvoiceHTML previews an invoice in the browser.
func (h *Handlers) InvoiceHTML(w http.ResponseWriter, r *http.Request) {
	h.serveInvoice(w, r, string(invoice.FormatHTML), false)
}

// DownloadInvoice sends the invoice as an attachment. ?format= picks html,
// text or escpos and defaults to text.
func (h *Handlers) DownloadInvoice(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = string(invoice.FormatText)
	}
	h.serveInvoice(w, r, format, true)
}

func (h *Handlers) serveInvoice(w http.ResponseWriter, r *http.Request, format string, attachment bool) {
	orderID, err := pathUUID(r, "orderId")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	doc, err := h.printing.Render(r.Context(), orderID, r.URL.Query().Get("layout"), format)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Body); err != nil {
		h.loggerFromContext(r.Context()).Warn("failed to write invoice", "error", err)
	}
}
