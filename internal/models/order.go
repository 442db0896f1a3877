package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodCash PaymentMethod = "cash"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type LineItem struct {
	Name           string `json:"name"`
	Category       string `json:"category,omitempty"`
	UnitPriceCents int    `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	Size           string `json:"size,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

func (i LineItem) TotalCents() int {
	return i.UnitPriceCents * i.Quantity
}

type Address struct {
	Line      string   `json:"line"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type Location struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StatusEvent is one immutable entry of an order's status history.
type StatusEvent struct {
	From      OrderStatus `json:"from,omitempty"`
	To        OrderStatus `json:"to"`
	ActorID   uuid.UUID   `json:"actor_id"`
	ActorRole Role        `json:"actor_role"`
	Latitude  *float64    `json:"latitude,omitempty"`
	Longitude *float64    `json:"longitude,omitempty"`
	At        time.Time   `json:"at"`
}

type Order struct {
	ID               uuid.UUID     `json:"id"`
	OrderNumber      string        `json:"order_number"`
	CustomerID       uuid.UUID     `json:"customer_id"`
	CustomerName     string        `json:"customer_name"`
	CustomerPhone    string        `json:"customer_phone"`
	CustomerEmail    string        `json:"customer_email"`
	DeliveryAddress  Address       `json:"delivery_address"`
	Items            []LineItem    `json:"items"`
	SubtotalCents    int           `json:"subtotal_cents"`
	DeliveryFeeCents int           `json:"delivery_fee_cents"`
	DiscountCents    int           `json:"discount_cents"`
	TotalCents       int           `json:"total_cents"`
	CouponCode       string        `json:"coupon_code,omitempty"`
	PromotionID      *uuid.UUID    `json:"promotion_id,omitempty"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentIntentID  string        `json:"payment_intent_id,omitempty"`
	Status           OrderStatus   `json:"status"`
	DeliveryUserID   *uuid.UUID    `json:"delivery_user_id,omitempty"`
	CurrentLocation  *Location     `json:"current_location,omitempty"`
	History          []StatusEvent `json:"history,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	AssignedAt       *time.Time    `json:"assigned_at,omitempty"`
	PickedUpAt       *time.Time    `json:"picked_up_at,omitempty"`
	OutForDeliveryAt *time.Time    `json:"out_for_delivery_at,omitempty"`
	DeliveredAt      *time.Time    `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
}

func (o *Order) IsPaid() bool {
	return o != nil && o.PaymentStatus == PaymentPaid
}

// Categories returns the distinct item categories in first-seen order.
func (o *Order) Categories() []string {
	if o == nil {
		return nil
	}
	return ItemCategories(o.Items)
}

func ItemCategories(items []LineItem) []string {
	seen := make(map[string]struct{}, len(items))
	categories := make([]string, 0, len(items))
	for _, item := range items {
		if item.Category == "" {
			continue
		}
		if _, ok := seen[item.Category]; ok {
			continue
		}
		seen[item.Category] = struct{}{}
		categories = append(categories, item.Category)
	}
	return categories
}

// CanBeViewedBy reports whether the given user may read the order.
func (o *Order) CanBeViewedBy(userID uuid.UUID, role Role) bool {
	if o == nil {
		return false
	}
	switch role {
	case RoleAdmin:
		return true
	case RoleDelivery:
		return o.DeliveryUserID != nil && *o.DeliveryUserID == userID
	default:
		return o.CustomerID == userID
	}
}

// FormatOrderNumber renders a sequence value as ORD000042. Values past six
// digits keep all their digits.
func FormatOrderNumber(seq int64) string {
	return fmt.Sprintf("ORD%06d", seq)
}
