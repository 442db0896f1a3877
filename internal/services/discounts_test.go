package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/models"
)

func validRule() RuleInput {
	return RuleInput{
		DiscountType:  models.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(15),
		ApplyToAll:    true,
	}
}

func TestCouponInputValidation(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(*CouponInput)
	}{
		{name: "short code", mutate: func(in *CouponInput) { in.Code = "AB" }},
		{name: "code with spaces", mutate: func(in *CouponInput) { in.Code = "SAVE 10" }},
		{name: "unknown type", mutate: func(in *CouponInput) { in.DiscountType = "bogo" }},
		{name: "zero value", mutate: func(in *CouponInput) { in.DiscountValue = decimal.Zero }},
		{name: "over one hundred percent", mutate: func(in *CouponInput) { in.DiscountValue = decimal.NewFromInt(101) }},
		{name: "fractional cents", mutate: func(in *CouponInput) {
			in.DiscountType = models.DiscountFixed
			in.DiscountValue = decimal.RequireFromString("1.005")
		}},
		{name: "no categories", mutate: func(in *CouponInput) { in.ApplyToAll = false }},
		{name: "window ends before start", mutate: func(in *CouponInput) {
			in.StartsAt = &start
			in.EndsAt = &end
		}},
		{name: "zero max uses", mutate: func(in *CouponInput) { in.MaxUses = intPtr(0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, harnessOptions{})
			input := CouponInput{Code: "SPRING15", RuleInput: validRule()}
			tt.mutate(&input)
			if _, err := h.discounts.CreateCoupon(context.Background(), input); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCouponCRUD(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	created, err := h.discounts.CreateCoupon(ctx, CouponInput{Code: "spring15", MaxUses: intPtr(100), RuleInput: validRule()})
	if err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	if created.Code != "SPRING15" || !created.Active {
		t.Fatalf("unexpected coupon: %+v", created)
	}
	if _, err := h.discounts.CreateCoupon(ctx, CouponInput{Code: "SPRING15", RuleInput: validRule()}); !errors.Is(err, db.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	stored, _ := h.coupons.GetByID(ctx, created.ID)
	stored.UsedCount = 7
	_ = h.coupons.Update(ctx, stored)

	inactive := false
	update := CouponInput{Code: "SPRING15", RuleInput: validRule()}
	update.DiscountValue = decimal.NewFromInt(20)
	update.Active = &inactive
	updated, err := h.discounts.UpdateCoupon(ctx, created.ID, update)
	if err != nil {
		t.Fatalf("UpdateCoupon: %v", err)
	}
	if updated.UsedCount != 7 || updated.Active || !updated.DiscountValue.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected update: %+v", updated)
	}

	if err := h.discounts.DeleteCoupon(ctx, created.ID); err != nil {
		t.Fatalf("DeleteCoupon: %v", err)
	}
	if _, err := h.discounts.GetCoupon(ctx, created.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateCoupon(t *testing.T) {
	t.Parallel()

	minimum := percentCoupon("BIGSPEND", 10)
	minimum.MinOrderCents = 5000
	h := newHarness(t, harnessOptions{coupons: []*models.Coupon{percentCoupon("SAVE10", 10), minimum}})
	items := QuoteInput{Items: standardCart()}.LineItems()

	check, err := h.discounts.ValidateCoupon(context.Background(), "save10", items)
	if err != nil {
		t.Fatalf("ValidateCoupon: %v", err)
	}
	if !check.Valid || check.DiscountCents != 250 || check.Code != "SAVE10" {
		t.Fatalf("unexpected check: %+v", check)
	}

	for _, code := range []string{"BIGSPEND", "MISSING"} {
		check, err := h.discounts.ValidateCoupon(context.Background(), code, items)
		if err != nil {
			t.Fatalf("ValidateCoupon(%s): %v", code, err)
		}
		if check.Valid || check.Message == "" {
			t.Fatalf("%s should be rejected with a message: %+v", code, check)
		}
	}

	if _, err := h.discounts.ValidateCoupon(context.Background(), " ", items); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestActivePromotionsAreCachedUntilChanged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	first, err := h.discounts.ActivePromotions(ctx)
	if err != nil {
		t.Fatalf("ActivePromotions: %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("expected no promotions, got %d", len(first))
	}
	if _, err := h.discounts.ActivePromotions(ctx); err != nil {
		t.Fatalf("ActivePromotions: %v", err)
	}
	if calls := h.promotions.calls(); calls != 1 {
		t.Fatalf("store hit %d times, want 1", calls)
	}

	created, err := h.discounts.CreatePromotion(ctx, PromotionInput{Name: "Lunch deal", RuleInput: validRule()})
	if err != nil {
		t.Fatalf("CreatePromotion: %v", err)
	}
	active, err := h.discounts.ActivePromotions(ctx)
	if err != nil {
		t.Fatalf("ActivePromotions: %v", err)
	}
	if len(active) != 1 || active[0].ID != created.ID {
		t.Fatalf("new promotion not visible: %+v", active)
	}
	if calls := h.promotions.calls(); calls != 2 {
		t.Fatalf("store hit %d times, want 2", calls)
	}

	if err := h.discounts.DeletePromotion(ctx, created.ID); err != nil {
		t.Fatalf("DeletePromotion: %v", err)
	}
	active, _ = h.discounts.ActivePromotions(ctx)
	if len(active) != 0 {
		t.Fatalf("deleted promotion still active")
	}
	if err := h.discounts.DeletePromotion(ctx, uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPromotionBeatsSmallerCoupon(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{coupons: []*models.Coupon{percentCoupon("SAVE10", 10)}})
	if _, err := h.discounts.CreatePromotion(context.Background(), PromotionInput{Name: "Quarter off", RuleInput: RuleInput{
		DiscountType:  models.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(25),
		ApplyToAll:    true,
	}}); err != nil {
		t.Fatalf("CreatePromotion: %v", err)
	}

	quote, err := h.order.Quote(context.Background(), QuoteInput{Items: standardCart(), CouponCode: "SAVE10"})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.DiscountCents != 625 || quote.CouponCode() != "" || quote.PromotionID() == nil {
		t.Fatalf("expected the promotion to win: %+v", quote)
	}
}

func TestUpdateCouponRejectsMaxUsesBelowRedemptions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	created, err := h.discounts.CreateCoupon(ctx, CouponInput{Code: "SUMMER20", MaxUses: intPtr(50), RuleInput: validRule()})
	if err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	stored, _ := h.coupons.GetByID(ctx, created.ID)
	stored.UsedCount = 10
	_ = h.coupons.Update(ctx, stored)

	tests := []struct {
		name    string
		maxUses *int
		wantErr error
	}{
		{name: "below used count", maxUses: intPtr(9), wantErr: ErrValidation},
		{name: "equal to used count", maxUses: intPtr(10)},
		{name: "unlimited", maxUses: nil},
	}
	for _, tt := range tests {
		_, err := h.discounts.UpdateCoupon(ctx, created.ID, CouponInput{Code: "SUMMER20", MaxUses: tt.maxUses, RuleInput: validRule()})
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
		}
	}

	after, _ := h.coupons.GetByID(ctx, created.ID)
	if after.UsedCount != 10 {
		t.Fatalf("used count = %d, want 10", after.UsedCount)
	}
}

func TestDeleteAppliedPromotionIsConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	created, err := h.discounts.CreatePromotion(ctx, PromotionInput{Name: "Opening week", RuleInput: validRule()})
	if err != nil {
		t.Fatalf("CreatePromotion: %v", err)
	}
	h.promotions.mu.Lock()
	h.promotions.applied = map[uuid.UUID]bool{created.ID: true}
	h.promotions.mu.Unlock()

	err = h.discounts.DeletePromotion(ctx, created.ID)
	if !errors.Is(err, db.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if _, err := h.discounts.GetPromotion(ctx, created.ID); err != nil {
		t.Fatalf("promotion should still exist: %v", err)
	}
}
