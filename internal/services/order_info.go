package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/orderdesk/orderdesk/internal/email"
	"github.com/orderdesk/orderdesk/internal/models"
)

// Storefront is the restaurant identity used in customer-facing emails.
type Storefront struct {
	Name           string
	CurrencySymbol string
	BaseURL        string
	Location       *time.Location
}

func (s Storefront) trackingURL(order *models.Order) string {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" || order == nil {
		return ""
	}
	return fmt.Sprintf("%s/orders/%s", base, order.ID)
}

// BuildOrderInfo builds a consistent OrderInfo payload for email templates.
func BuildOrderInfo(store Storefront, order *models.Order) *email.OrderInfo {
	if order == nil {
		return &email.OrderInfo{RestaurantName: store.Name}
	}
	loc := store.Location
	if loc == nil {
		loc = time.UTC
	}
	money := func(cents int) string { return formatPrice(store.CurrencySymbol, cents) }

	items := make([]email.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, email.OrderItem{
			Name:       item.Name,
			Size:       item.Size,
			Notes:      item.Notes,
			Quantity:   item.Quantity,
			TotalPrice: money(item.TotalCents()),
		})
	}

	info := &email.OrderInfo{
		OrderNumber:     order.OrderNumber,
		CustomerName:    strings.TrimSpace(order.CustomerName),
		CustomerEmail:   strings.TrimSpace(order.CustomerEmail),
		RestaurantName:  store.Name,
		TrackingURL:     store.trackingURL(order),
		DeliveryAddress: strings.TrimSpace(order.DeliveryAddress.Line),
		OrderDate:       order.CreatedAt.In(loc).Format("2 January 2006 15:04"),
		PaymentLabel:    paymentLabel(order),
		Items:           items,
		Subtotal:        money(order.SubtotalCents),
		DeliveryFee:     money(order.DeliveryFeeCents),
		Total:           money(order.TotalCents),
		Status:          strings.ReplaceAll(string(order.Status), "_", " "),
	}
	if info.CustomerName == "" {
		info.CustomerName = "there"
	}
	if order.DiscountCents > 0 {
		info.Discount = money(order.DiscountCents)
		info.DiscountLabel = "Discount"
		if order.CouponCode != "" {
			info.DiscountLabel = "Coupon " + order.CouponCode
		}
	}
	info.StatusHeadline, info.StatusMessage = statusCopy(order.Status)
	return info
}

func statusCopy(status models.OrderStatus) (string, string) {
	switch status {
	case models.StatusAssigned:
		return "A driver has been assigned", "Your order has been handed to a driver who will pick it up shortly."
	case models.StatusPickedUp:
		return "Your order has been picked up", "Your driver has collected your order from the kitchen."
	case models.StatusOutForDelivery:
		return "Your order is on its way", "Your driver is heading to you now."
	case models.StatusDelivered:
		return "Your order has been delivered", "Enjoy your meal! We hope to cook for you again soon."
	case models.StatusCancelled:
		return "Your order has been cancelled", "Your order was cancelled. Please contact us if this is unexpected."
	default:
		return "Order update", "We have received your order and the kitchen is on it."
	}
}

func paymentLabel(order *models.Order) string {
	method := "Cash on delivery"
	if order.PaymentMethod == models.PaymentMethodCard {
		method = "Card"
	}
	if order.IsPaid() {
		return method + " (paid)"
	}
	return method + " (due)"
}

func formatPrice(symbol string, cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, symbol, cents/100, cents%100)
}
