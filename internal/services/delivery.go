package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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
	"github.com/orderdesk/orderdesk/internal/tracking"
)

// DeliveryService moves orders through the delivery status machine and
// records courier locations.
type DeliveryService struct {
	orders      orderStore
	users       userStore
	publisher   events.Publisher
	tracker     tracker
	emailSender OrderEmailSender
	logger      *slog.Logger
	now         func() time.Time
}

func NewDeliveryService(orders orderStore, users userStore, publisher events.Publisher, hub tracker, emailSender OrderEmailSender, logger *slog.Logger) *DeliveryService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if hub == nil {
		hub = nopTracker{}
	}
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	return &DeliveryService{
		orders:      orders,
		users:       users,
		publisher:   publisher,
		tracker:     hub,
		emailSender: emailSender,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *DeliveryService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type StatusUpdateInput struct {
	Status         string     `json:"status" validate:"required"`
	DeliveryUserID *uuid.UUID `json:"delivery_user_id"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
}

type LocationInput struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
}

// UpdateStatus applies a requested transition. Assigning and cancelling are
// admin actions; the remaining steps belong to the assigned courier or an
// admin.
func (s *DeliveryService) UpdateStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID, input StatusUpdateInput) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.delivery.update_status",
		sentry.WithOpName("service.delivery"),
		sentry.WithDescription("UpdateStatus"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	if err := validate(input); err != nil {
		return nil, err
	}
	next, err := models.ParseRequestedStatus(input.Status)
	if err != nil {
		return nil, err
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, invalid("latitude and longitude must be given together")
	}
	if input.Latitude != nil {
		if err := checkCoordinates(*input.Latitude, *input.Longitude); err != nil {
			return nil, err
		}
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.Status.CheckTransition(next); err != nil {
		return nil, err
	}
	if err := authorizeTransition(principal, order, next); err != nil {
		return nil, err
	}

	var deliveryUserID *uuid.UUID
	if next == models.StatusAssigned {
		if input.DeliveryUserID == nil {
			return nil, invalid("delivery_user_id is required to assign an order")
		}
		courier, err := s.users.GetByID(ctx, *input.DeliveryUserID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, invalid("delivery user %s does not exist", *input.DeliveryUserID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load delivery user: %w", err)
		}
		if courier.Role != models.RoleDelivery {
			return nil, invalid("user %s is not a delivery user", courier.ID)
		}
		deliveryUserID = &courier.ID
	}

	event := models.StatusEvent{
		To:        next,
		ActorID:   principal.UserID,
		ActorRole: principal.Role,
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
		At:        s.now().UTC(),
	}
	updated, err := s.orders.Transition(ctx, order.ID, order.Status, event, deliveryUserID)
	if err != nil {
		return nil, err
	}

	s.loggerFromContext(ctx).Info("order status changed",
		"order_id", updated.ID, "order_number", updated.OrderNumber, "from", order.Status, "to", updated.Status, "actor_role", principal.Role)
	observability.MeterFromContext(ctx).Count(observability.MetricStatusChanged, 1, sentry.WithAttributes(
		attribute.String("status", string(updated.Status)),
	))

	s.tracker.Publish(updated.ID, tracking.MessageStatus, statusPayload(updated))
	if err := s.publisher.Publish(ctx, events.FromOrder(events.OrderStatusChanged, updated, principal.Role)); err != nil {
		s.loggerFromContext(ctx).Warn("failed to publish order event", "error", err, "order_id", updated.ID)
	}
	if notifiesCustomer(updated.Status) {
		sendEmailAsync(ctx, s.logger, "order_status", updated, s.emailSender.SendStatusUpdate)
	}
	return updated, nil
}

func authorizeTransition(principal auth.Principal, order *models.Order, next models.OrderStatus) error {
	if principal.Role == models.RoleAdmin {
		return nil
	}
	switch next {
	case models.StatusAssigned, models.StatusCancelled:
		return fmt.Errorf("%w: only admins can set %s", ErrForbidden, next)
	}
	if !isAssignedCourier(principal, order) {
		return fmt.Errorf("%w: order is not assigned to you", ErrForbidden)
	}
	return nil
}

func isAssignedCourier(principal auth.Principal, order *models.Order) bool {
	return principal.Role == models.RoleDelivery && order.DeliveryUserID != nil && *order.DeliveryUserID == principal.UserID
}

func notifiesCustomer(status models.OrderStatus) bool {
	switch status {
	case models.StatusOutForDelivery, models.StatusDelivered, models.StatusCancelled:
		return true
	default:
		return false
	}
}

// UpdateLocation records the courier's position while the order is out.
func (s *DeliveryService) UpdateLocation(ctx context.Context, principal auth.Principal, orderID uuid.UUID, input LocationInput) (*models.Location, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	if err := checkCoordinates(*input.Latitude, *input.Longitude); err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if principal.Role != models.RoleAdmin && !isAssignedCourier(principal, order) {
		return nil, fmt.Errorf("%w: order is not assigned to you", ErrForbidden)
	}
	if !order.Status.TracksLocation() {
		return nil, fmt.Errorf("%w: location updates are not accepted in status %s", models.ErrInvalidStatusTransition, order.Status)
	}

	location, err := s.orders.UpdateLocation(ctx, order.ID, *input.Latitude, *input.Longitude)
	if err != nil {
		return nil, err
	}

	order.CurrentLocation = location
	s.tracker.Publish(order.ID, tracking.MessageLocation, location)
	if err := s.publisher.Publish(ctx, events.FromOrder(events.OrderLocation, order, principal.Role)); err != nil {
		s.loggerFromContext(ctx).Warn("failed to publish order event", "error", err, "order_id", order.ID)
	}
	return location, nil
}
