package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/cache"
	"github.com/orderdesk/orderdesk/internal/config"
	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/invoice"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/pricing"
	"github.com/orderdesk/orderdesk/internal/printer"
	"github.com/orderdesk/orderdesk/internal/services"
)

const (
	maxWebhookBodyBytes = 1 << 20 // 1 MB
	maxJSONBodyBytes    = 1 << 20
)

// The handlers talk to the services through these views so tests can stub
// single operations.

type authAPI interface {
	Register(ctx context.Context, input services.RegisterInput) (*services.AuthResult, error)
	Login(ctx context.Context, input services.LoginInput) (*services.AuthResult, error)
	Me(ctx context.Context, principal auth.Principal) (*models.User, error)
	CreateUser(ctx context.Context, input services.CreateUserInput) (*models.User, error)
	Authenticate(token string) (auth.Principal, error)
}

type orderAPI interface {
	Quote(ctx context.Context, input services.QuoteInput) (pricing.Quote, error)
	CreatePaymentIntent(ctx context.Context, principal auth.Principal, input services.QuoteInput) (*services.PaymentIntentResponse, error)
	Create(ctx context.Context, principal auth.Principal, input services.CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Order, error)
	ListMine(ctx context.Context, principal auth.Principal, limit, offset int) ([]*models.Order, error)
	ListAssigned(ctx context.Context, principal auth.Principal, filter db.OrderFilter) ([]*models.Order, error)
	ListAll(ctx context.Context, filter db.OrderFilter) ([]*models.Order, error)
}

type deliveryAPI interface {
	UpdateStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID, input services.StatusUpdateInput) (*models.Order, error)
	UpdateLocation(ctx context.Context, principal auth.Principal, orderID uuid.UUID, input services.LocationInput) (*models.Location, error)
}

type paymentAPI interface {
	Confirm(ctx context.Context, principal auth.Principal, orderID uuid.UUID, paymentIntentID string) (*models.Order, error)
}

type discountAPI interface {
	ListCoupons(ctx context.Context) ([]*models.Coupon, error)
	GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	CreateCoupon(ctx context.Context, input services.CouponInput) (*models.Coupon, error)
	UpdateCoupon(ctx context.Context, id uuid.UUID, input services.CouponInput) (*models.Coupon, error)
	DeleteCoupon(ctx context.Context, id uuid.UUID) error
	ValidateCoupon(ctx context.Context, code string, items []models.LineItem) (services.CouponCheck, error)
	ListPromotions(ctx context.Context) ([]*models.Promotion, error)
	GetPromotion(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
	CreatePromotion(ctx context.Context, input services.PromotionInput) (*models.Promotion, error)
	UpdatePromotion(ctx context.Context, id uuid.UUID, input services.PromotionInput) (*models.Promotion, error)
	DeletePromotion(ctx context.Context, id uuid.UUID) error
}

type printAPI interface {
	EnqueueOrder(ctx context.Context, orderID uuid.UUID, target string) ([]printer.Job, error)
	Reprint(ctx context.Context, orderID uuid.UUID, target string) ([]printer.Job, error)
	Render(ctx context.Context, orderID uuid.UUID, layout, format string) (*invoice.Document, error)
	Status(ctx context.Context, probe bool) printer.Snapshot
	Process(ctx context.Context) printer.Report
	Test(ctx context.Context, printerID string) (printer.Result, error)
	Toggle(ctx context.Context, printerID string, enabled bool) (printer.Status, error)
	Clear(ctx context.Context) int
}

type trackingServer interface {
	Serve(w http.ResponseWriter, r *http.Request, orderID uuid.UUID)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Handlers serves the orderdesk JSON API.
type Handlers struct {
	config        *config.Config
	db            pinger
	cacheProvider cache.Provider
	auth          authAPI
	orders        orderAPI
	delivery      deliveryAPI
	payments      paymentAPI
	discounts     discountAPI
	printing      printAPI
	tracker       trackingServer
	stripeRouter  *StripeEventRouter
	logger        *slog.Logger
}

type Dependencies struct {
	Config          *config.Config
	DB              pinger
	CacheProvider   cache.Provider
	AuthService     *services.AuthService
	OrderService    *services.OrderService
	DeliveryService *services.DeliveryService
	PaymentService  *services.PaymentService
	DiscountService *services.DiscountService
	PrintService    *services.PrintService
	Tracker         trackingServer
	StripeRouter    *StripeEventRouter
	Logger          *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.AuthService == nil {
		return nil, fmt.Errorf("handlers dependencies: authService is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.DeliveryService == nil {
		return nil, fmt.Errorf("handlers dependencies: deliveryService is required")
	}
	if deps.PaymentService == nil {
		return nil, fmt.Errorf("handlers dependencies: paymentService is required")
	}
	if deps.DiscountService == nil {
		return nil, fmt.Errorf("handlers dependencies: discountService is required")
	}
	if deps.PrintService == nil {
		return nil, fmt.Errorf("handlers dependencies: printService is required")
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("handlers dependencies: tracker is required")
	}
	if deps.StripeRouter == nil {
		return nil, fmt.Errorf("handlers dependencies: stripeRouter is required")
	}

	return &Handlers{
		config:        deps.Config,
		db:            deps.DB,
		cacheProvider: deps.CacheProvider,
		auth:          deps.AuthService,
		orders:        deps.OrderService,
		delivery:      deps.DeliveryService,
		payments:      deps.PaymentService,
		discounts:     deps.DiscountService,
		printing:      deps.PrintService,
		tracker:       deps.Tracker,
		stripeRouter:  deps.StripeRouter,
		logger:        logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.Ping(pingCtx); err != nil {
		logger.Error("database health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unhealthy")
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// decodeJSON reads a JSON body into dest, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", services.ErrValidation, err)
	}
	return nil
}
