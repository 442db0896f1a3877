package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderdesk/orderdesk/internal/cache"
	"github.com/orderdesk/orderdesk/internal/invoice"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/pricing"
	"github.com/orderdesk/orderdesk/internal/printer"
)

type harness struct {
	orders     *fakeOrderStore
	coupons    *fakeCouponStore
	promotions *fakePromotionStore
	users      *fakeUserStore
	intents    *fakeIntents
	tracker    *recordingTracker
	publisher  *recordingPublisher
	emails     *recordingEmailSender
	queue      *printer.Queue

	discounts *DiscountService
	payments  *PaymentService
	printing  *PrintService
	order     *OrderService
	delivery  *DeliveryService

	customer *models.User
	courier  *models.User
	admin    *models.User
}

type harnessOptions struct {
	intents   *fakeIntents
	coupons   []*models.Coupon
	autoPrint bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	h := &harness{
		coupons:    newFakeCouponStore(opts.coupons...),
		promotions: newFakePromotionStore(),
		tracker:    &recordingTracker{},
		publisher:  &recordingPublisher{},
		emails:     newRecordingEmailSender(),
		intents:    opts.intents,
		customer: &models.User{
			Name:  "Priya Shah",
			Email: "priya@example.com",
			Phone: "07700 900123",
			Role:  models.RoleCustomer,
			Addresses: []models.Address{
				{Line: "Flat 3, 14 Brick Lane, London E1 6RF"},
			},
		},
		courier: &models.User{Name: "Sam Rider", Email: "sam@example.com", Role: models.RoleDelivery},
		admin:   &models.User{Name: "Admin", Email: "admin@example.com", Role: models.RoleAdmin},
	}
	h.orders = newFakeOrderStore(h.coupons)
	h.users = newFakeUserStore(h.customer, h.courier, h.admin)

	memory, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider: %v", err)
	}
	queue, err := printer.NewQueue(printer.Config{
		Printers: []printer.Printer{
			{ID: "kitchen", Name: "Kitchen", Type: printer.TypeKitchen, IP: "127.0.0.1", Port: 9100, Enabled: true},
			{ID: "bill", Name: "Front Desk", Type: printer.TypeBill, IP: "127.0.0.1", Port: 9101, Enabled: true},
		},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	h.queue = queue

	var intents paymentIntents
	if opts.intents != nil {
		intents = opts.intents
	}
	logger := logging.Discard()
	h.discounts = NewDiscountService(h.coupons, h.promotions, memory, logger)
	h.payments = NewPaymentService(h.orders, intents, "gbp", h.publisher, h.tracker, logger)
	h.printing = NewPrintService(queue, h.orders, invoice.Letterhead{Name: "Dabba Kitchen", CurrencySymbol: "£", Location: time.UTC}, logger)
	h.order = NewOrderService(h.orders, h.users, h.discounts, h.payments, h.printing, h.emails, h.publisher,
		pricing.DeliveryFee{FeeCents: 5000}, opts.autoPrint, logger)
	h.delivery = NewDeliveryService(h.orders, h.users, h.publisher, h.tracker, h.emails, logger)
	return h
}

func percentCoupon(code string, percent int64) *models.Coupon {
	return &models.Coupon{
		Code: code,
		DiscountRule: models.DiscountRule{
			DiscountType:  models.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(percent),
			ApplyToAll:    true,
			Categories:    []string{},
			Active:        true,
		},
	}
}

// standardCart is two mains at 10.00 and a drink at 5.00.
func standardCart() []ItemInput {
	return []ItemInput{
		{Name: "Chicken Biryani", Category: "Mains", UnitPriceCents: 1000, Quantity: 2, Size: "Large"},
		{Name: "Mango Lassi", Category: "drinks", UnitPriceCents: 500, Quantity: 1},
	}
}

func cashOrderInput() CreateOrderInput {
	return CreateOrderInput{
		QuoteInput:      QuoteInput{Items: standardCart()},
		DeliveryAddress: AddressInput{Line: "221B Baker Street, London"},
		PaymentMethod:   models.PaymentMethodCash,
	}
}
