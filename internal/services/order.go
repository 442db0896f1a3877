package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/events"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/observability"
	"github.com/orderdesk/orderdesk/internal/pricing"
	"github.com/orderdesk/orderdesk/internal/printer"
)

type orderPrinter interface {
	PrintOrder(ctx context.Context, order *models.Order) ([]printer.Job, error)
}

type OrderService struct {
	orders      orderStore
	users       userStore
	discounts   *DiscountService
	payments    *PaymentService
	printing    orderPrinter
	emailSender OrderEmailSender
	publisher   events.Publisher
	fee         pricing.DeliveryFee
	autoPrint   bool
	logger      *slog.Logger
	now         func() time.Time
}

func NewOrderService(orders orderStore, users userStore, discounts *DiscountService, payments *PaymentService, printing orderPrinter, emailSender OrderEmailSender, publisher events.Publisher, fee pricing.DeliveryFee, autoPrint bool, logger *slog.Logger) *OrderService {
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &OrderService{
		orders:      orders,
		users:       users,
		discounts:   discounts,
		payments:    payments,
		printing:    printing,
		emailSender: emailSender,
		publisher:   publisher,
		fee:         fee,
		autoPrint:   autoPrint,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type ItemInput struct {
	Name           string `json:"name" validate:"required,max=120"`
	Category       string `json:"category" validate:"max=64"`
	UnitPriceCents int    `json:"unit_price_cents" validate:"gt=0"`
	Quantity       int    `json:"quantity" validate:"min=1,max=100"`
	Size           string `json:"size" validate:"max=32"`
	Notes          string `json:"notes" validate:"max=280"`
}

type QuoteInput struct {
	Items      []ItemInput `json:"items" validate:"required,min=1,dive"`
	CouponCode string      `json:"coupon_code" validate:"max=32"`
}

type AddressInput struct {
	Line      string   `json:"line" validate:"max=300"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type CreateOrderInput struct {
	QuoteInput
	DeliveryAddress   AddressInput         `json:"delivery_address"`
	SavedAddressIndex *int                 `json:"saved_address_index" validate:"omitempty,min=0"`
	SaveAddress       bool                 `json:"save_address"`
	CustomerName      string               `json:"customer_name" validate:"max=120"`
	CustomerPhone     string               `json:"customer_phone" validate:"max=32"`
	CustomerEmail     string               `json:"customer_email" validate:"omitempty,email"`
	PaymentMethod     models.PaymentMethod `json:"payment_method" validate:"required,oneof=card cash"`
	PaymentIntentID   string               `json:"payment_intent_id" validate:"max=255"`
}

// LineItems normalises the cart into order line items.
func (in QuoteInput) LineItems() []models.LineItem {
	items := make([]models.LineItem, 0, len(in.Items))
	for _, item := range in.Items {
		items = append(items, models.LineItem{
			Name:           strings.TrimSpace(item.Name),
			Category:       strings.ToLower(strings.TrimSpace(item.Category)),
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			Size:           strings.TrimSpace(item.Size),
			Notes:          strings.TrimSpace(item.Notes),
		})
	}
	return items
}

// Quote prices a cart with the best available discount. Nothing is redeemed.
func (s *OrderService) Quote(ctx context.Context, input QuoteInput) (pricing.Quote, error) {
	if err := validate(input); err != nil {
		return pricing.Quote{}, err
	}
	return s.quote(ctx, input.LineItems(), input.CouponCode)
}

func (s *OrderService) quote(ctx context.Context, items []models.LineItem, couponCode string) (pricing.Quote, error) {
	promotions, err := s.discounts.ActivePromotions(ctx)
	if err != nil {
		return pricing.Quote{}, err
	}

	code := models.NormalizeCouponCode(couponCode)
	var coupon *models.Coupon
	if code != "" {
		if coupon, err = s.discounts.lookupCoupon(ctx, code); err != nil {
			return pricing.Quote{}, fmt.Errorf("failed to look up coupon: %w", err)
		}
	}
	return pricing.Calculate(items, code != "", coupon, promotions, s.fee, s.now())
}

type PaymentIntentResponse struct {
	*PaymentIntentResult
	Quote pricing.Quote `json:"quote"`
}

// CreatePaymentIntent prices the cart server-side and opens a card payment
// for the total.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, principal auth.Principal, input QuoteInput) (*PaymentIntentResponse, error) {
	quote, err := s.Quote(ctx, input)
	if err != nil {
		return nil, err
	}

	customerEmail := ""
	if user, err := s.users.GetByID(ctx, principal.UserID); err == nil {
		customerEmail = user.Email
	}
	result, err := s.payments.CreateIntent(ctx, quote.TotalCents, customerEmail)
	if err != nil {
		return nil, err
	}
	return &PaymentIntentResponse{PaymentIntentResult: result, Quote: quote}, nil
}

func (s *OrderService) Create(ctx context.Context, principal auth.Principal, input CreateOrderInput) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.create",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Create"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	if err := validate(input); err != nil {
		return nil, err
	}
	customer, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	address, inline, err := resolveAddress(input, customer)
	if err != nil {
		return nil, err
	}
	name := firstNonEmpty(input.CustomerName, customer.Name)
	phone := firstNonEmpty(input.CustomerPhone, customer.Phone)
	emailAddress := firstNonEmpty(input.CustomerEmail, customer.Email)
	if phone == "" {
		return nil, invalid("customer_phone is required")
	}

	intentID := strings.TrimSpace(input.PaymentIntentID)
	if input.PaymentMethod == models.PaymentMethodCard && intentID == "" && s.payments.Enabled() {
		return nil, invalid("payment_intent_id is required for card payments")
	}
	if input.PaymentMethod == models.PaymentMethodCash {
		intentID = ""
	}

	items := input.LineItems()
	quote, err := s.quote(ctx, items, input.CouponCode)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		CustomerID:       customer.ID,
		CustomerName:     name,
		CustomerPhone:    phone,
		CustomerEmail:    emailAddress,
		DeliveryAddress:  address,
		Items:            items,
		SubtotalCents:    quote.SubtotalCents,
		DeliveryFeeCents: quote.DeliveryFeeCents,
		DiscountCents:    quote.DiscountCents,
		TotalCents:       quote.TotalCents,
		CouponCode:       quote.CouponCode(),
		PromotionID:      quote.PromotionID(),
		PaymentMethod:    input.PaymentMethod,
		PaymentIntentID:  intentID,
	}
	actor := models.StatusEvent{ActorID: principal.UserID, ActorRole: principal.Role}
	if err := s.orders.Create(ctx, order, actor); err != nil {
		meter.Count("orders.create.failed", 1)
		if errors.Is(err, db.ErrCouponExhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	ctx = logging.With(ctx, s.logger, "order_id", order.ID, "order_number", order.OrderNumber)
	logger = s.loggerFromContext(ctx)

	logger.Info("order created", "total_cents", order.TotalCents, "payment_method", order.PaymentMethod, "coupon", order.CouponCode)
	meter.Count(observability.MetricOrderCreated, 1, sentry.WithAttributes(
		attribute.String("payment_method", string(order.PaymentMethod)),
	))
	if order.CouponCode != "" {
		meter.Count(observability.MetricCouponRedeemed, 1)
	}

	if inline && input.SaveAddress {
		if err := s.users.AddAddress(ctx, customer.ID, address); err != nil {
			logger.Warn("failed to save delivery address", "error", err)
		}
	}

	if order.PaymentMethod == models.PaymentMethodCard && order.PaymentIntentID != "" && s.payments.Enabled() {
		if paid, err := s.payments.settle(ctx, order); err != nil {
			logger.Info("card payment not settled yet; waiting for webhook", "reason", err)
		} else {
			order = paid
		}
	}

	if s.autoPrint && s.printing != nil {
		if _, err := s.printing.PrintOrder(ctx, order); err != nil {
			logger.Warn("failed to queue order tickets", "error", err)
		}
	}

	sendEmailAsync(ctx, s.logger, "order_confirmation", order, s.emailSender.SendOrderConfirmation)

	if err := s.publisher.Publish(ctx, events.FromOrder(events.OrderCreated, order, principal.Role)); err != nil {
		logger.Warn("failed to publish order event", "error", err)
	}

	return order, nil
}

func resolveAddress(input CreateOrderInput, customer *models.User) (models.Address, bool, error) {
	if line := strings.TrimSpace(input.DeliveryAddress.Line); line != "" {
		lat, lng := input.DeliveryAddress.Latitude, input.DeliveryAddress.Longitude
		if (lat == nil) != (lng == nil) {
			return models.Address{}, false, invalid("latitude and longitude must be given together")
		}
		if lat != nil {
			if err := checkCoordinates(*lat, *lng); err != nil {
				return models.Address{}, false, err
			}
		}
		return models.Address{Line: line, Latitude: lat, Longitude: lng}, true, nil
	}
	if input.SavedAddressIndex != nil {
		idx := *input.SavedAddressIndex
		if idx >= len(customer.Addresses) {
			return models.Address{}, false, invalid("saved_address_index %d is out of range", idx)
		}
		return customer.Addresses[idx], false, nil
	}
	return models.Address{}, false, invalid("delivery_address is required")
}

func checkCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return invalid("coordinates out of range")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Get returns the order with its history if the caller may see it.
func (s *OrderService) Get(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.CanBeViewedBy(principal.UserID, principal.Role) {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *OrderService) ListMine(ctx context.Context, principal auth.Principal, limit, offset int) ([]*models.Order, error) {
	customerID := principal.UserID
	return s.orders.List(ctx, db.OrderFilter{CustomerID: &customerID, Limit: limit, Offset: offset})
}

// ListAssigned returns the caller's deliveries. Admins may name a delivery
// user in the filter or see every assigned order.
func (s *OrderService) ListAssigned(ctx context.Context, principal auth.Principal, filter db.OrderFilter) ([]*models.Order, error) {
	switch principal.Role {
	case models.RoleDelivery:
		deliveryUserID := principal.UserID
		filter.DeliveryUserID = &deliveryUserID
		filter.CustomerID = nil
	case models.RoleAdmin:
		if filter.DeliveryUserID == nil && filter.Status == "" {
			filter.Status = models.StatusAssigned
		}
	default:
		return nil, ErrForbidden
	}
	return s.orders.List(ctx, filter)
}

func (s *OrderService) ListAll(ctx context.Context, filter db.OrderFilter) ([]*models.Order, error) {
	return s.orders.List(ctx, filter)
}
