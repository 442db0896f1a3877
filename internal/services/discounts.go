package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderdesk/orderdesk/internal/cache"
	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/pricing"
)

// promotionsTTL bounds how stale the cached promotion snapshot can be when an
// admin edits promotions on another instance.
const promotionsTTL = 30 * time.Second

var hundred = decimal.NewFromInt(100)

// DiscountService manages coupons and promotions and serves the active
// promotion list used for pricing.
type DiscountService struct {
	coupons    couponStore
	promotions promotionStore
	cache      cache.Provider
	logger     *slog.Logger
	now        func() time.Time
}

func NewDiscountService(coupons couponStore, promotions promotionStore, cacheProvider cache.Provider, logger *slog.Logger) *DiscountService {
	return &DiscountService{
		coupons:    coupons,
		promotions: promotions,
		cache:      cacheProvider,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *DiscountService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// RuleInput is the discount part shared by coupon and promotion requests.
type RuleInput struct {
	DiscountType     models.DiscountType `json:"discount_type" validate:"required,oneof=percentage fixed"`
	DiscountValue    decimal.Decimal     `json:"discount_value"`
	MaxDiscountCents *int                `json:"max_discount_cents" validate:"omitempty,gte=0"`
	MinOrderCents    int                 `json:"min_order_cents" validate:"gte=0"`
	ApplyToAll       bool                `json:"apply_to_all"`
	Categories       []string            `json:"categories" validate:"omitempty,dive,required,max=64"`
	Active           *bool               `json:"active"`
	StartsAt         *time.Time          `json:"starts_at"`
	EndsAt           *time.Time          `json:"ends_at"`
	Priority         int                 `json:"priority"`
}

type CouponInput struct {
	Code    string `json:"code" validate:"required,min=3,max=32,alphanum"`
	MaxUses *int   `json:"max_uses" validate:"omitempty,min=1"`
	RuleInput
}

type PromotionInput struct {
	Name string `json:"name" validate:"required,max=120"`
	RuleInput
}

func (in RuleInput) rule() (models.DiscountRule, error) {
	if !in.DiscountValue.IsPositive() {
		return models.DiscountRule{}, invalid("discount_value must be positive")
	}
	if in.DiscountType == models.DiscountPercentage && in.DiscountValue.GreaterThan(hundred) {
		return models.DiscountRule{}, invalid("percentage discount cannot exceed 100")
	}
	if in.DiscountType == models.DiscountFixed && !in.DiscountValue.Equal(in.DiscountValue.Round(2)) {
		return models.DiscountRule{}, invalid("fixed discount has more than two decimal places")
	}
	if !in.ApplyToAll && len(in.Categories) == 0 {
		return models.DiscountRule{}, invalid("categories are required unless apply_to_all is set")
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return models.DiscountRule{}, invalid("ends_at must be after starts_at")
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}
	categories := in.Categories
	if categories == nil {
		categories = []string{}
	}
	return models.DiscountRule{
		DiscountType:     in.DiscountType,
		DiscountValue:    in.DiscountValue,
		MaxDiscountCents: in.MaxDiscountCents,
		MinOrderCents:    in.MinOrderCents,
		ApplyToAll:       in.ApplyToAll,
		Categories:       categories,
		Active:           active,
		StartsAt:         in.StartsAt,
		EndsAt:           in.EndsAt,
		Priority:         in.Priority,
	}, nil
}

func (s *DiscountService) ListCoupons(ctx context.Context) ([]*models.Coupon, error) {
	return s.coupons.List(ctx)
}

func (s *DiscountService) GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	return s.coupons.GetByID(ctx, id)
}

func (s *DiscountService) CreateCoupon(ctx context.Context, input CouponInput) (*models.Coupon, error) {
	coupon, err := couponFromInput(input)
	if err != nil {
		return nil, err
	}
	if err := s.coupons.Create(ctx, coupon); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, fmt.Errorf("%w: coupon code %s", db.ErrConflict, coupon.Code)
		}
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}
	s.loggerFromContext(ctx).Info("coupon created", "coupon_id", coupon.ID, "code", coupon.Code)
	return coupon, nil
}

// UpdateCoupon replaces a coupon's rule. The usage counter is kept.
func (s *DiscountService) UpdateCoupon(ctx context.Context, id uuid.UUID, input CouponInput) (*models.Coupon, error) {
	existing, err := s.coupons.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	coupon, err := couponFromInput(input)
	if err != nil {
		return nil, err
	}
	if coupon.MaxUses != nil && *coupon.MaxUses < existing.UsedCount {
		return nil, invalid("max_uses %d is below the %d redemptions already made", *coupon.MaxUses, existing.UsedCount)
	}
	coupon.ID = existing.ID
	coupon.UsedCount = existing.UsedCount
	coupon.CreatedAt = existing.CreatedAt
	if err := s.coupons.Update(ctx, coupon); err != nil {
		return nil, fmt.Errorf("failed to update coupon: %w", err)
	}
	return coupon, nil
}

func (s *DiscountService) DeleteCoupon(ctx context.Context, id uuid.UUID) error {
	return s.coupons.Delete(ctx, id)
}

func couponFromInput(input CouponInput) (*models.Coupon, error) {
	input.Code = models.NormalizeCouponCode(input.Code)
	if err := validate(input); err != nil {
		return nil, err
	}
	rule, err := input.rule()
	if err != nil {
		return nil, err
	}
	return &models.Coupon{Code: input.Code, DiscountRule: rule, MaxUses: input.MaxUses}, nil
}

// CouponCheck is the answer to "does this code work for my cart".
type CouponCheck struct {
	Valid         bool   `json:"valid"`
	Code          string `json:"code"`
	DiscountCents int    `json:"discount_cents"`
	Message       string `json:"message,omitempty"`
}

// ValidateCoupon checks a code against a cart without redeeming it.
func (s *DiscountService) ValidateCoupon(ctx context.Context, code string, items []models.LineItem) (CouponCheck, error) {
	code = models.NormalizeCouponCode(code)
	if code == "" {
		return CouponCheck{}, invalid("code is required")
	}
	subtotal, err := pricing.Subtotal(items)
	if err != nil {
		return CouponCheck{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	coupon, err := s.coupons.GetByCode(ctx, code)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return CouponCheck{}, err
	}
	if err := pricing.CheckCoupon(coupon, subtotal, models.ItemCategories(items), s.now()); err != nil {
		return CouponCheck{Valid: false, Code: code, Message: err.Error()}, nil
	}
	return CouponCheck{Valid: true, Code: code, DiscountCents: pricing.Discount(coupon.DiscountRule, subtotal)}, nil
}

// lookupCoupon returns nil without error for unknown codes so pricing can
// reject them as invalid.
func (s *DiscountService) lookupCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	coupon, err := s.coupons.GetByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return coupon, err
}

func (s *DiscountService) ListPromotions(ctx context.Context) ([]*models.Promotion, error) {
	return s.promotions.List(ctx)
}

func (s *DiscountService) GetPromotion(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	return s.promotions.GetByID(ctx, id)
}

func (s *DiscountService) CreatePromotion(ctx context.Context, input PromotionInput) (*models.Promotion, error) {
	promotion, err := promotionFromInput(input)
	if err != nil {
		return nil, err
	}
	if err := s.promotions.Create(ctx, promotion); err != nil {
		return nil, fmt.Errorf("failed to create promotion: %w", err)
	}
	s.invalidatePromotions(ctx)
	s.loggerFromContext(ctx).Info("promotion created", "promotion_id", promotion.ID, "name", promotion.Name)
	return promotion, nil
}

func (s *DiscountService) UpdatePromotion(ctx context.Context, id uuid.UUID, input PromotionInput) (*models.Promotion, error) {
	existing, err := s.promotions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	promotion, err := promotionFromInput(input)
	if err != nil {
		return nil, err
	}
	promotion.ID = existing.ID
	promotion.CreatedAt = existing.CreatedAt
	if err := s.promotions.Update(ctx, promotion); err != nil {
		return nil, fmt.Errorf("failed to update promotion: %w", err)
	}
	s.invalidatePromotions(ctx)
	return promotion, nil
}

func (s *DiscountService) DeletePromotion(ctx context.Context, id uuid.UUID) error {
	if err := s.promotions.Delete(ctx, id); err != nil {
		if errors.Is(err, db.ErrInUse) {
			return fmt.Errorf("%w: promotion has been applied to orders, deactivate it instead", db.ErrInUse)
		}
		return err
	}
	s.invalidatePromotions(ctx)
	return nil
}

func promotionFromInput(input PromotionInput) (*models.Promotion, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	rule, err := input.rule()
	if err != nil {
		return nil, err
	}
	return &models.Promotion{Name: input.Name, DiscountRule: rule}, nil
}

// ActivePromotions returns promotions that are switched on and inside their
// window, read through the cache.
func (s *DiscountService) ActivePromotions(ctx context.Context) ([]*models.Promotion, error) {
	logger := s.loggerFromContext(ctx)
	if s.cache != nil {
		var cached []*models.Promotion
		err := cache.GetJSON(ctx, s.cache, cache.PromotionsKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			logger.Warn("failed to read cached promotions", "error", err)
		}
	}

	promotions, err := s.promotions.ListActive(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list active promotions: %w", err)
	}
	if promotions == nil {
		promotions = []*models.Promotion{}
	}
	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cache.PromotionsKey, promotions, promotionsTTL); err != nil {
			logger.Warn("failed to cache promotions", "error", err)
		}
	}
	return promotions, nil
}

func (s *DiscountService) invalidatePromotions(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.PromotionsKey); err != nil {
		s.loggerFromContext(ctx).Warn("failed to invalidate cached promotions", "error", err)
	}
}
