package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderdesk/orderdesk/internal/models"
)

var now = time.Date(2026, 5, 10, 18, 30, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func percentRule(value string) models.DiscountRule {
	return models.DiscountRule{
		DiscountType:  models.DiscountPercentage,
		DiscountValue: decimal.RequireFromString(value),
		ApplyToAll:    true,
		Active:        true,
	}
}

func fixedRule(value string) models.DiscountRule {
	return models.DiscountRule{
		DiscountType:  models.DiscountFixed,
		DiscountValue: decimal.RequireFromString(value),
		ApplyToAll:    true,
		Active:        true,
	}
}

func TestCalculateTenPercentCouponWithDeliveryFee(t *testing.T) {
	t.Parallel()

	items := []models.LineItem{
		{Name: "Chicken Biryani", Category: "mains", UnitPriceCents: 1000, Quantity: 2},
		{Name: "Mango Lassi", Category: "drinks", UnitPriceCents: 500, Quantity: 1},
	}
	coupon := &models.Coupon{ID: uuid.New(), Code: "SAVE10", DiscountRule: percentRule("10")}

	quote, err := Calculate(items, true, coupon, nil, DeliveryFee{FeeCents: 5000}, now)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if quote.SubtotalCents != 2500 || quote.DiscountCents != 250 || quote.DeliveryFeeCents != 5000 || quote.TotalCents != 7250 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if quote.CouponCode() != "SAVE10" {
		t.Fatalf("expected coupon SAVE10 applied, got %+v", quote.Applied)
	}
	if quote.PromotionID() != nil {
		t.Fatalf("expected no promotion id")
	}
}

func TestDiscount(t *testing.T) {
	t.Parallel()

	capped := percentRule("50")
	capped.MaxDiscountCents = intPtr(300)

	tests := []struct {
		name     string
		rule     models.DiscountRule
		subtotal int
		want     int
	}{
		{name: "percentage", rule: percentRule("10"), subtotal: 2500, want: 250},
		{name: "percentage rounds half up", rule: percentRule("12.5"), subtotal: 1004, want: 126},
		{name: "percentage capped", rule: capped, subtotal: 2000, want: 300},
		{name: "fixed in currency units", rule: fixedRule("3.50"), subtotal: 2000, want: 350},
		{name: "fixed capped at subtotal", rule: fixedRule("30"), subtotal: 1200, want: 1200},
		{name: "zero subtotal", rule: percentRule("10"), subtotal: 0, want: 0},
		{name: "unknown type", rule: models.DiscountRule{DiscountType: "bogo", DiscountValue: decimal.NewFromInt(5)}, subtotal: 1000, want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Discount(tt.rule, tt.subtotal); got != tt.want {
				t.Fatalf("Discount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBestPicksLargestDiscount(t *testing.T) {
	t.Parallel()

	small := Candidate{Source: SourcePromotion, ID: uuid.New(), Label: "small", DiscountRule: percentRule("5")}
	large := Candidate{Source: SourcePromotion, ID: uuid.New(), Label: "large", DiscountRule: fixedRule("4")}

	applied := Best([]Candidate{small, large}, 2000, nil, now)
	if applied == nil || applied.Label != "large" || applied.DiscountCents != 400 {
		t.Fatalf("unexpected applied: %+v", applied)
	}
}

func TestBestTieBreaks(t *testing.T) {
	t.Parallel()

	low := percentRule("10")
	low.Priority = 1
	high := percentRule("10")
	high.Priority = 5

	lowPromo := Candidate{Source: SourcePromotion, ID: uuid.New(), Label: "low", DiscountRule: low}
	highPromo := Candidate{Source: SourcePromotion, ID: uuid.New(), Label: "high", DiscountRule: high}

	applied := Best([]Candidate{lowPromo, highPromo}, 1000, nil, now)
	if applied == nil || applied.Label != "high" {
		t.Fatalf("expected higher priority to win, got %+v", applied)
	}

	promo := Candidate{Source: SourcePromotion, ID: uuid.New(), Label: "promo", DiscountRule: percentRule("10")}
	coupon := Candidate{Source: SourceCoupon, ID: uuid.New(), Label: "CODE", DiscountRule: percentRule("10")}
	applied = Best([]Candidate{promo, coupon}, 1000, nil, now)
	if applied == nil || applied.Source != SourceCoupon {
		t.Fatalf("expected coupon to win equal tie, got %+v", applied)
	}

	first := Best([]Candidate{lowPromo, promo}, 1000, nil, now)
	second := Best([]Candidate{promo, lowPromo}, 1000, nil, now)
	if first.ID != second.ID {
		t.Fatalf("selection depends on input order: %v vs %v", first.ID, second.ID)
	}
}

func TestBestSkipsIneligibleRules(t *testing.T) {
	t.Parallel()

	minOrder := percentRule("50")
	minOrder.MinOrderCents = 5000

	inactive := percentRule("50")
	inactive.Active = false

	expired := percentRule("50")
	expired.EndsAt = timePtr(now.Add(-time.Hour))

	notStarted := percentRule("50")
	notStarted.StartsAt = timePtr(now.Add(time.Hour))

	wrongCategory := percentRule("50")
	wrongCategory.ApplyToAll = false
	wrongCategory.Categories = []string{"desserts"}

	candidates := []Candidate{
		{Source: SourcePromotion, ID: uuid.New(), DiscountRule: minOrder},
		{Source: SourcePromotion, ID: uuid.New(), DiscountRule: inactive},
		{Source: SourcePromotion, ID: uuid.New(), DiscountRule: expired},
		{Source: SourcePromotion, ID: uuid.New(), DiscountRule: notStarted},
		{Source: SourcePromotion, ID: uuid.New(), DiscountRule: wrongCategory},
	}

	if applied := Best(candidates, 2000, []string{"mains"}, now); applied != nil {
		t.Fatalf("expected no discount, got %+v", applied)
	}
}

func TestBestMatchesCategoriesCaseInsensitively(t *testing.T) {
	t.Parallel()

	rule := percentRule("20")
	rule.ApplyToAll = false
	rule.Categories = []string{"Mains"}

	applied := Best([]Candidate{{Source: SourcePromotion, ID: uuid.New(), DiscountRule: rule}}, 1000, []string{"drinks", "mains"}, now)
	if applied == nil || applied.DiscountCents != 200 {
		t.Fatalf("unexpected applied: %+v", applied)
	}
}

func TestCalculatePromotionBeatsSmallerCoupon(t *testing.T) {
	t.Parallel()

	items := []models.LineItem{{Name: "Thali", Category: "mains", UnitPriceCents: 2000, Quantity: 1}}
	coupon := &models.Coupon{ID: uuid.New(), Code: "FIVE", DiscountRule: percentRule("5")}
	promotion := &models.Promotion{ID: uuid.New(), Name: "Weekend", DiscountRule: percentRule("15")}

	quote, err := Calculate(items, true, coupon, []*models.Promotion{promotion}, DeliveryFee{}, now)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if quote.PromotionID() == nil || *quote.PromotionID() != promotion.ID {
		t.Fatalf("expected promotion to apply, got %+v", quote.Applied)
	}
	if quote.CouponCode() != "" {
		t.Fatalf("coupon should not be applied")
	}
	if quote.TotalCents != 1700 {
		t.Fatalf("total = %d, want 1700", quote.TotalCents)
	}
}

func TestCalculateRejectsBadCoupons(t *testing.T) {
	t.Parallel()

	items := []models.LineItem{{Name: "Samosa", Category: "starters", UnitPriceCents: 400, Quantity: 2}}

	used := &models.Coupon{ID: uuid.New(), Code: "ONCE", DiscountRule: percentRule("10"), MaxUses: intPtr(1), UsedCount: 1}
	inactive := &models.Coupon{ID: uuid.New(), Code: "OFF", DiscountRule: fixedRule("1")}
	inactive.Active = false
	minOrder := &models.Coupon{ID: uuid.New(), Code: "BIG", DiscountRule: percentRule("10")}
	minOrder.MinOrderCents = 10000
	category := &models.Coupon{ID: uuid.New(), Code: "SWEET", DiscountRule: percentRule("10")}
	category.ApplyToAll = false
	category.Categories = []string{"desserts"}

	tests := []struct {
		name    string
		coupon  *models.Coupon
		wantErr error
	}{
		{name: "unknown code", coupon: nil, wantErr: ErrCouponInvalid},
		{name: "used up", coupon: used, wantErr: ErrCouponInvalid},
		{name: "inactive", coupon: inactive, wantErr: ErrCouponInvalid},
		{name: "below minimum", coupon: minOrder, wantErr: ErrCouponNotApplicable},
		{name: "category mismatch", coupon: category, wantErr: ErrCouponNotApplicable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Calculate(items, true, tt.coupon, nil, DeliveryFee{}, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCalculateValidatesItems(t *testing.T) {
	t.Parallel()

	if _, err := Calculate(nil, false, nil, nil, DeliveryFee{}, now); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	items := []models.LineItem{{Name: "Naan", UnitPriceCents: 200, Quantity: 0}}
	if _, err := Calculate(items, false, nil, nil, DeliveryFee{}, now); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
}

func TestDeliveryFeeWaivedAboveThreshold(t *testing.T) {
	t.Parallel()

	fee := DeliveryFee{FeeCents: 299, FreeAboveCents: 3000}
	if got := fee.For(2999); got != 299 {
		t.Fatalf("fee below threshold = %d", got)
	}
	if got := fee.For(3000); got != 0 {
		t.Fatalf("fee at threshold = %d", got)
	}
	if got := (DeliveryFee{FeeCents: 299}).For(100000); got != 299 {
		t.Fatalf("fee without threshold = %d", got)
	}
}

func TestTotalsInvariant(t *testing.T) {
	t.Parallel()

	promotions := []*models.Promotion{
		{ID: uuid.New(), Name: "p1", DiscountRule: percentRule("33.333")},
		{ID: uuid.New(), Name: "p2", DiscountRule: fixedRule("7.77")},
	}
	for subtotal := 1; subtotal < 5000; subtotal += 37 {
		items := []models.LineItem{{Name: "x", UnitPriceCents: subtotal, Quantity: 1}}
		quote, err := Calculate(items, false, nil, promotions, DeliveryFee{FeeCents: 150, FreeAboveCents: 2500}, now)
		if err != nil {
			t.Fatalf("Calculate(%d): %v", subtotal, err)
		}
		if quote.TotalCents != quote.SubtotalCents-quote.DiscountCents+quote.DeliveryFeeCents {
			t.Fatalf("total invariant broken: %+v", quote)
		}
		if quote.DiscountCents < 0 || quote.DiscountCents > quote.SubtotalCents {
			t.Fatalf("discount out of range: %+v", quote)
		}
	}
}
