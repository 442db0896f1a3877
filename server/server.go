package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/orderdesk/orderdesk/internal/config"
	"github.com/orderdesk/orderdesk/internal/handlers"
	"github.com/orderdesk/orderdesk/internal/models"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	var (
		signedIn  = h.RequireRoles()
		customers = h.RequireRoles(models.RoleCustomer, models.RoleAdmin)
		couriers  = h.RequireRoles(models.RoleDelivery, models.RoleAdmin)
		admins    = h.RequireRoles(models.RoleAdmin)
		route     = func(r *mux.Router, path string, guard func(http.Handler) http.Handler, fn http.HandlerFunc) *mux.Route {
			return r.Handle(path, guard(fn))
		}
	)

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.Use(h.Recover)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/webhooks/stripe", h.StripeWebhook).Methods("POST").Name("webhooks.stripe")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", h.Register).Methods("POST").Name("auth.register")
	api.HandleFunc("/auth/login", h.Login).Methods("POST").Name("auth.login")
	route(api, "/auth/me", signedIn, h.Me).Methods("GET").Name("auth.me")
	route(api, "/users", admins, h.CreateUser).Methods("POST").Name("users.create")

	route(api, "/payment/create-payment-intent", customers, h.CreatePaymentIntent).Methods("POST").Name("payment.intent")

	// Fixed order paths must be registered before /orders/{id}.
	route(api, "/orders/quote", signedIn, h.QuoteOrder).Methods("POST").Name("orders.quote")
	route(api, "/orders", customers, h.CreateOrder).Methods("POST").Name("orders.create")
	route(api, "/orders/mine", signedIn, h.ListMyOrders).Methods("GET").Name("orders.mine")
	route(api, "/orders/assigned", couriers, h.ListAssignedOrders).Methods("GET").Name("orders.assigned")
	route(api, "/orders/all", admins, h.ListAllOrders).Methods("GET").Name("orders.all")
	route(api, "/orders/{id}", signedIn, h.GetOrder).Methods("GET").Name("orders.get")
	route(api, "/orders/{id}/status", couriers, h.UpdateOrderStatus).Methods("PATCH").Name("orders.status")
	route(api, "/orders/{id}/location", couriers, h.UpdateOrderLocation).Methods("PATCH").Name("orders.location")
	route(api, "/orders/{id}/payment", signedIn, h.ConfirmPayment).Methods("PATCH").Name("orders.payment")
	route(api, "/orders/{id}/track", signedIn, h.TrackOrder).Methods("GET").Name("orders.track")

	route(api, "/coupons/validate", signedIn, h.ValidateCoupon).Methods("POST").Name("coupons.validate")
	route(api, "/coupons", admins, h.ListCoupons).Methods("GET").Name("coupons.list")
	route(api, "/coupons", admins, h.CreateCoupon).Methods("POST").Name("coupons.create")
	route(api, "/coupons/{id}", admins, h.GetCoupon).Methods("GET").Name("coupons.get")
	route(api, "/coupons/{id}", admins, h.UpdateCoupon).Methods("PUT").Name("coupons.update")
	route(api, "/coupons/{id}", admins, h.DeleteCoupon).Methods("DELETE").Name("coupons.delete")

	route(api, "/promotions", admins, h.ListPromotions).Methods("GET").Name("promotions.list")
	route(api, "/promotions", admins, h.CreatePromotion).Methods("POST").Name("promotions.create")
	route(api, "/promotions/{id}", admins, h.GetPromotion).Methods("GET").Name("promotions.get")
	route(api, "/promotions/{id}", admins, h.UpdatePromotion).Methods("PUT").Name("promotions.update")
	route(api, "/promotions/{id}", admins, h.DeletePromotion).Methods("DELETE").Name("promotions.delete")

	printers := api.PathPrefix("/thermal-printers").Subrouter()
	printers.Use(admins)
	printers.HandleFunc("/status", h.PrinterStatus).Methods("GET").Name("printers.status")
	printers.HandleFunc("/test/{printerId}", h.TestPrinter).Methods("POST").Name("printers.test")
	printers.HandleFunc("/process", h.ProcessPrintQueue).Methods("POST").Name("printers.process")
	printers.HandleFunc("/queue", h.EnqueuePrintJob).Methods("POST").Name("printers.queue.enqueue")
	printers.HandleFunc("/queue", h.ClearPrintQueue).Methods("DELETE").Name("printers.queue.clear")
	printers.HandleFunc("/{printerId}/toggle", h.TogglePrinter).Methods("POST").Name("printers.toggle")

	invoices := api.PathPrefix("/invoices/{orderId}").Subrouter()
	invoices.Use(admins)
	invoices.HandleFunc("/reprint", h.ReprintInvoice).Methods("POST").Name("invoices.reprint")
	invoices.HandleFunc("/html", h.InvoiceHTML).Methods("GET").Name("invoices.html")
	invoices.HandleFunc("/download", h.DownloadInvoice).Methods("GET").Name("invoices.download")

	return r
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
