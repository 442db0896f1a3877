package services

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/events"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/pricing"
	"github.com/orderdesk/orderdesk/internal/stripe"
)

func TestCreateOrderPricesServerSide(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{coupons: []*models.Coupon{percentCoupon("SAVE10", 10)}, autoPrint: true})
	input := cashOrderInput()
	input.CouponCode = "save10"

	order, err := h.order.Create(context.Background(), principal(h.customer), input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if order.SubtotalCents != 2500 || order.DiscountCents != 250 || order.DeliveryFeeCents != 5000 || order.TotalCents != 7250 {
		t.Fatalf("unexpected totals: subtotal=%d discount=%d fee=%d total=%d",
			order.SubtotalCents, order.DiscountCents, order.DeliveryFeeCents, order.TotalCents)
	}
	if order.CouponCode != "SAVE10" {
		t.Fatalf("coupon code = %q, want SAVE10", order.CouponCode)
	}
	if order.OrderNumber != "ORD000001" || order.Status != models.StatusPending || order.PaymentStatus != models.PaymentPending {
		t.Fatalf("unexpected order state: %+v", order)
	}
	if order.Items[0].Category != "mains" {
		t.Fatalf("category not normalised: %q", order.Items[0].Category)
	}
	if order.CustomerPhone != "07700 900123" || order.CustomerEmail != "priya@example.com" {
		t.Fatalf("contact details not taken from profile: %+v", order)
	}

	coupon, err := h.coupons.GetByCode(context.Background(), "SAVE10")
	if err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	if coupon.UsedCount != 1 {
		t.Fatalf("used count = %d, want 1", coupon.UsedCount)
	}

	if depth := h.queue.Status().QueueDepth; depth != 2 {
		t.Fatalf("queue depth = %d, want kitchen and bill jobs", depth)
	}
	h.emails.expect(t, "confirmation:ORD000001")
	if got := h.publisher.types(); !slices.Equal(got, []events.Type{events.OrderCreated}) {
		t.Fatalf("published events = %v", got)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{name: "no items", mutate: func(in *CreateOrderInput) { in.Items = nil }},
		{name: "zero quantity", mutate: func(in *CreateOrderInput) { in.Items[0].Quantity = 0 }},
		{name: "zero price", mutate: func(in *CreateOrderInput) { in.Items[1].UnitPriceCents = 0 }},
		{name: "unknown payment method", mutate: func(in *CreateOrderInput) { in.PaymentMethod = "cheque" }},
		{name: "missing address", mutate: func(in *CreateOrderInput) { in.DeliveryAddress = AddressInput{} }},
		{name: "saved address out of range", mutate: func(in *CreateOrderInput) {
			in.DeliveryAddress = AddressInput{}
			in.SavedAddressIndex = intPtr(4)
		}},
		{name: "latitude without longitude", mutate: func(in *CreateOrderInput) { in.DeliveryAddress.Latitude = floatPtr(51.5) }},
		{name: "coordinates out of range", mutate: func(in *CreateOrderInput) {
			in.DeliveryAddress.Latitude = floatPtr(91)
			in.DeliveryAddress.Longitude = floatPtr(0)
		}},
		{name: "bad email", mutate: func(in *CreateOrderInput) { in.CustomerEmail = "not-an-email" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, harnessOptions{})
			input := cashOrderInput()
			tt.mutate(&input)

			_, err := h.order.Create(context.Background(), principal(h.customer), input)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if orders, _ := h.orders.List(context.Background(), db.OrderFilter{}); len(orders) != 0 {
				t.Fatalf("rejected order was stored")
			}
		})
	}
}

func TestCreateOrderRequiresPhone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.customer.Phone = ""

	_, err := h.order.Create(context.Background(), principal(h.customer), cashOrderInput())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	input := cashOrderInput()
	input.CustomerPhone = "020 7946 0001"
	order, err := h.order.Create(context.Background(), principal(h.customer), input)
	if err != nil {
		t.Fatalf("Create with phone: %v", err)
	}
	if order.CustomerPhone != "020 7946 0001" {
		t.Fatalf("phone = %q", order.CustomerPhone)
	}
}

func TestCreateOrderAddresses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})

	input := cashOrderInput()
	input.DeliveryAddress = AddressInput{}
	input.SavedAddressIndex = intPtr(0)
	order, err := h.order.Create(context.Background(), principal(h.customer), input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if order.DeliveryAddress.Line != "Flat 3, 14 Brick Lane, London E1 6RF" {
		t.Fatalf("saved address not used: %q", order.DeliveryAddress.Line)
	}

	input = cashOrderInput()
	input.DeliveryAddress = AddressInput{Line: "1 Canal Street", Latitude: floatPtr(51.52), Longitude: floatPtr(-0.07)}
	input.SaveAddress = true
	if _, err := h.order.Create(context.Background(), principal(h.customer), input); err != nil {
		t.Fatalf("Create: %v", err)
	}
	user, err := h.users.GetByID(context.Background(), h.customer.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(user.Addresses) != 2 || user.Addresses[1].Line != "1 Canal Street" {
		t.Fatalf("address not saved: %+v", user.Addresses)
	}
}

func TestCreateOrderCouponErrors(t *testing.T) {
	t.Parallel()

	limited := percentCoupon("ONCE", 10)
	limited.MaxUses = intPtr(1)
	dessertsOnly := percentCoupon("SWEET", 20)
	dessertsOnly.ApplyToAll = false
	dessertsOnly.Categories = []string{"desserts"}

	tests := []struct {
		code string
		want error
	}{
		{code: "NOPE", want: pricing.ErrCouponInvalid},
		{code: "SWEET", want: pricing.ErrCouponNotApplicable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, harnessOptions{coupons: []*models.Coupon{dessertsOnly}})
			input := cashOrderInput()
			input.CouponCode = tt.code
			if _, err := h.order.Create(context.Background(), principal(h.customer), input); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, harnessOptions{coupons: []*models.Coupon{limited}})
		input := cashOrderInput()
		input.CouponCode = "ONCE"
		if _, err := h.order.Create(context.Background(), principal(h.customer), input); err != nil {
			t.Fatalf("first redemption: %v", err)
		}
		_, err := h.order.Create(context.Background(), principal(h.customer), input)
		if !errors.Is(err, pricing.ErrCouponInvalid) && !errors.Is(err, db.ErrCouponExhausted) {
			t.Fatalf("expected exhausted coupon to be rejected, got %v", err)
		}
	})
}

func TestQuoteDoesNotRedeem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{coupons: []*models.Coupon{percentCoupon("SAVE10", 10)}})
	quote, err := h.order.Quote(context.Background(), QuoteInput{Items: standardCart(), CouponCode: "SAVE10"})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.TotalCents != 7250 || quote.CouponCode() != "SAVE10" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	coupon, _ := h.coupons.GetByCode(context.Background(), "SAVE10")
	if coupon.UsedCount != 0 {
		t.Fatalf("quote redeemed the coupon")
	}
}

func TestCardOrderRequiresIntentWhenPaymentsEnabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{intents: newFakeIntents()})
	input := cashOrderInput()
	input.PaymentMethod = models.PaymentMethodCard

	if _, err := h.order.Create(context.Background(), principal(h.customer), input); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCardOrderSettledWhenIntentSucceeded(t *testing.T) {
	t.Parallel()

	intents := newFakeIntents(&stripe.Intent{ID: "pi_paid", AmountCents: 7500, Currency: "gbp", Status: "succeeded"})
	h := newHarness(t, harnessOptions{intents: intents})
	input := cashOrderInput()
	input.PaymentMethod = models.PaymentMethodCard
	input.PaymentIntentID = "pi_paid"

	order, err := h.order.Create(context.Background(), principal(h.customer), input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if order.PaymentStatus != models.PaymentPaid || order.PaidAt == nil {
		t.Fatalf("order not settled: %+v", order)
	}
	if got := h.publisher.types(); !slices.Equal(got, []events.Type{events.OrderPaid, events.OrderCreated}) {
		t.Fatalf("published events = %v", got)
	}
}

func TestCardOrderWaitsForWebhookWhenIntentPending(t *testing.T) {
	t.Parallel()

	intents := newFakeIntents(&stripe.Intent{ID: "pi_open", AmountCents: 7500, Currency: "gbp", Status: "processing"})
	h := newHarness(t, harnessOptions{intents: intents})
	input := cashOrderInput()
	input.PaymentMethod = models.PaymentMethodCard
	input.PaymentIntentID = "pi_open"

	order, err := h.order.Create(context.Background(), principal(h.customer), input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if order.PaymentStatus != models.PaymentPending || order.PaymentIntentID != "pi_open" {
		t.Fatalf("unexpected payment state: %+v", order)
	}
}

func TestCreatePaymentIntentUsesServerTotal(t *testing.T) {
	t.Parallel()

	intents := newFakeIntents()
	h := newHarness(t, harnessOptions{intents: intents})

	resp, err := h.order.CreatePaymentIntent(context.Background(), principal(h.customer), QuoteInput{Items: standardCart()})
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}
	if resp.AmountCents != 7500 || resp.Quote.TotalCents != 7500 || resp.ClientSecret == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(intents.created) != 1 || intents.created[0].CustomerEmail != "priya@example.com" || intents.created[0].Currency != "gbp" {
		t.Fatalf("unexpected intent params: %+v", intents.created)
	}

	disabled := newHarness(t, harnessOptions{})
	if _, err := disabled.order.CreatePaymentIntent(context.Background(), principal(disabled.customer), QuoteInput{Items: standardCart()}); !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected ErrPaymentUnavailable, got %v", err)
	}
}

func TestGetOrderAccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	order, err := h.order.Create(context.Background(), principal(h.customer), cashOrderInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stranger := &models.User{ID: uuid.New(), Role: models.RoleCustomer}
	tests := []struct {
		name string
		who  *models.User
		want error
	}{
		{name: "owner", who: h.customer},
		{name: "admin", who: h.admin},
		{name: "other customer", who: stranger, want: ErrForbidden},
		{name: "unassigned courier", who: h.courier, want: ErrForbidden},
	}
	for _, tt := range tests {
		_, err := h.order.Get(context.Background(), principal(tt.who), order.ID)
		if !errors.Is(err, tt.want) && !(tt.want == nil && err == nil) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}

	if _, err := h.order.Get(context.Background(), principal(h.admin), uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAssignedScopesByRole(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	mine := h.orders.put(&models.Order{OrderNumber: "ORD000001", Status: models.StatusAssigned, DeliveryUserID: &h.courier.ID})
	otherCourier := uuid.New()
	h.orders.put(&models.Order{OrderNumber: "ORD000002", Status: models.StatusAssigned, DeliveryUserID: &otherCourier})
	h.orders.put(&models.Order{OrderNumber: "ORD000003", Status: models.StatusPending})

	orders, err := h.order.ListAssigned(context.Background(), principal(h.courier), db.OrderFilter{})
	if err != nil {
		t.Fatalf("ListAssigned: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != mine.ID {
		t.Fatalf("courier saw %d orders", len(orders))
	}

	orders, err = h.order.ListAssigned(context.Background(), principal(h.admin), db.OrderFilter{})
	if err != nil {
		t.Fatalf("ListAssigned: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("admin saw %d assigned orders, want 2", len(orders))
	}

	if _, err := h.order.ListAssigned(context.Background(), principal(h.customer), db.OrderFilter{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.publisher.err = events.ErrPublishTimeout

	order, err := h.order.Create(context.Background(), principal(h.customer), cashOrderInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if order.OrderNumber != "ORD000001" {
		t.Fatalf("order not persisted: %+v", order)
	}
	if got := h.publisher.types(); !slices.Equal(got, []events.Type{events.OrderCreated}) {
		t.Fatalf("published events = %v", got)
	}
}
