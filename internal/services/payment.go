package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/events"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/observability"
	"github.com/orderdesk/orderdesk/internal/stripe"
	"github.com/orderdesk/orderdesk/internal/tracking"
)

// PaymentService bridges orders and Stripe payment intents. intents is nil
// when card payments are not configured.
type PaymentService struct {
	orders    orderStore
	intents   paymentIntents
	currency  string
	publisher events.Publisher
	tracker   tracker
	logger    *slog.Logger
}

func NewPaymentService(orders orderStore, intents paymentIntents, currency string, publisher events.Publisher, hub tracker, logger *slog.Logger) *PaymentService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if hub == nil {
		hub = nopTracker{}
	}
	return &PaymentService{
		orders:    orders,
		intents:   intents,
		currency:  currency,
		publisher: publisher,
		tracker:   hub,
		logger:    logger,
	}
}

func (s *PaymentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func (s *PaymentService) Enabled() bool {
	return s != nil && s.intents != nil
}

type PaymentIntentResult struct {
	ClientSecret    string `json:"client_secret"`
	PaymentIntentID string `json:"payment_intent_id"`
	AmountCents     int    `json:"amount_cents"`
	Currency        string `json:"currency"`
}

func (s *PaymentService) CreateIntent(ctx context.Context, amountCents int, customerEmail string) (*PaymentIntentResult, error) {
	if !s.Enabled() {
		return nil, ErrPaymentUnavailable
	}
	intent, err := s.intents.CreatePaymentIntent(ctx, stripe.IntentParams{
		AmountCents:   int64(amountCents),
		Currency:      s.currency,
		CustomerEmail: customerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	return &PaymentIntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		AmountCents:     amountCents,
		Currency:        s.currency,
	}, nil
}

// Confirm marks an order paid. Card orders are checked against Stripe when it
// is configured; cash orders can only be settled by an admin.
func (s *PaymentService) Confirm(ctx context.Context, principal auth.Principal, orderID uuid.UUID, paymentIntentID string) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.confirm",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("Confirm"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if principal.Role != models.RoleAdmin && order.CustomerID != principal.UserID {
		return nil, ErrForbidden
	}
	if order.IsPaid() {
		return order, nil
	}

	if paymentIntentID == "" {
		paymentIntentID = order.PaymentIntentID
	}
	switch order.PaymentMethod {
	case models.PaymentMethodCash:
		if principal.Role != models.RoleAdmin {
			return nil, ErrForbidden
		}
	case models.PaymentMethodCard:
		if s.Enabled() {
			if paymentIntentID == "" {
				return nil, invalid("payment_intent_id is required")
			}
			intent, err := s.intents.GetPaymentIntent(ctx, paymentIntentID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
			}
			if err := checkIntent(order, intent); err != nil {
				return nil, err
			}
		} else if principal.Role != models.RoleAdmin {
			return nil, ErrPaymentUnavailable
		}
	}

	return s.markPaid(ctx, order, paymentIntentID, principal.Role)
}

// HandleIntentSucceeded settles the order behind a payment_intent.succeeded
// webhook. Unknown intents are logged and ignored so Stripe stops retrying.
func (s *PaymentService) HandleIntentSucceeded(ctx context.Context, intent *stripe.Intent) error {
	logger := s.loggerFromContext(ctx)
	if intent == nil || intent.ID == "" {
		return fmt.Errorf("payment intent is missing")
	}

	order, err := s.orders.GetByPaymentIntent(ctx, intent.ID)
	if errors.Is(err, db.ErrNotFound) && intent.OrderID != uuid.Nil {
		order, err = s.orders.GetByID(ctx, intent.OrderID)
	}
	if errors.Is(err, db.ErrNotFound) {
		logger.Info("no order for succeeded payment intent", "payment_intent_id", intent.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find order for payment intent: %w", err)
	}

	if err := checkIntent(order, intent); err != nil {
		logger.Error("payment intent does not match order", "error", err, "order_id", order.ID, "payment_intent_id", intent.ID)
		return nil
	}
	_, err = s.markPaid(ctx, order, intent.ID, "")
	return err
}

// settle checks a new card order's intent and marks it paid when Stripe has
// already charged the card.
func (s *PaymentService) settle(ctx context.Context, order *models.Order) (*models.Order, error) {
	intent, err := s.intents.GetPaymentIntent(ctx, order.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	if err := checkIntent(order, intent); err != nil {
		return nil, err
	}
	return s.markPaid(ctx, order, intent.ID, "")
}

func (s *PaymentService) HandleIntentFailed(ctx context.Context, intent *stripe.Intent) {
	if intent == nil {
		return
	}
	s.loggerFromContext(ctx).Warn("payment intent failed", "payment_intent_id", intent.ID, "status", intent.Status, "order_id", intent.OrderID)
	observability.MeterFromContext(ctx).Count(observability.MetricPaymentFailed, 1)
}

func (s *PaymentService) markPaid(ctx context.Context, order *models.Order, paymentIntentID string, actor models.Role) (*models.Order, error) {
	changed, err := s.orders.MarkPaid(ctx, order.ID, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order as paid: %w", err)
	}
	updated, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	s.loggerFromContext(ctx).Info("order paid", "order_id", updated.ID, "order_number", updated.OrderNumber, "payment_method", updated.PaymentMethod)
	observability.MeterFromContext(ctx).Count(observability.MetricOrderPaid, 1, sentry.WithAttributes(
		attribute.String("payment_method", string(updated.PaymentMethod)),
	))
	s.tracker.Publish(updated.ID, tracking.MessageStatus, statusPayload(updated))
	if err := s.publisher.Publish(ctx, events.FromOrder(events.OrderPaid, updated, actor)); err != nil {
		s.loggerFromContext(ctx).Warn("failed to publish order event", "error", err, "order_id", updated.ID)
	}
	return updated, nil
}

func checkIntent(order *models.Order, intent *stripe.Intent) error {
	if !intent.Succeeded() {
		return fmt.Errorf("%w: status %s", ErrPaymentNotSucceeded, intent.Status)
	}
	if intent.AmountCents != int64(order.TotalCents) {
		return fmt.Errorf("%w: charged %d, order total %d", ErrPaymentMismatch, intent.AmountCents, order.TotalCents)
	}
	if order.PaymentIntentID != "" && order.PaymentIntentID != intent.ID {
		return fmt.Errorf("%w: order carries intent %s", ErrPaymentMismatch, order.PaymentIntentID)
	}
	return nil
}

// StatusPayload is what live trackers receive on status and payment changes.
type StatusPayload struct {
	Status         models.OrderStatus   `json:"status"`
	PaymentStatus  models.PaymentStatus `json:"payment_status"`
	DeliveryUserID *uuid.UUID           `json:"delivery_user_id,omitempty"`
	Location       *models.Location     `json:"location,omitempty"`
}

func statusPayload(order *models.Order) StatusPayload {
	return StatusPayload{
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		DeliveryUserID: order.DeliveryUserID,
		Location:       order.CurrentLocation,
	}
}
