// Package events publishes order lifecycle events for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/models"
)

type Type string

const (
	OrderCreated       Type = "order.created"
	OrderPaid          Type = "order.paid"
	OrderStatusChanged Type = "order.status_changed"
	OrderLocation      Type = "order.location"
)

type Event struct {
	ID            uuid.UUID            `json:"id"`
	Type          Type                 `json:"type"`
	OrderID       uuid.UUID            `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	TotalCents    int                  `json:"total_cents"`
	ActorRole     models.Role          `json:"actor_role,omitempty"`
	Location      *models.Location     `json:"location,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// FromOrder snapshots the order fields every event carries.
func FromOrder(kind Type, order *models.Order, actor models.Role) Event {
	return Event{
		ID:            uuid.New(),
		Type:          kind,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalCents:    order.TotalCents,
		ActorRole:     actor,
		Location:      order.CurrentLocation,
		OccurredAt:    time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
