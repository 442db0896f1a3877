// Package pricing computes cart totals and picks the single best discount
// from the active promotions and an optional coupon.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderdesk/orderdesk/internal/models"
)

var (
	ErrEmptyCart   = errors.New("cart has no items")
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrCouponInvalid covers unknown, inactive, expired and used-up codes.
	ErrCouponInvalid = errors.New("coupon is not valid")
	// ErrCouponNotApplicable means the coupon exists but this cart does not
	// meet its minimum order value or category list.
	ErrCouponNotApplicable = errors.New("coupon does not apply to this order")
)

type Source string

const (
	SourceCoupon    Source = "coupon"
	SourcePromotion Source = "promotion"
)

// Candidate is one discount rule considered for a cart.
type Candidate struct {
	Source Source
	ID     uuid.UUID
	Label  string
	models.DiscountRule
}

func CouponCandidate(coupon *models.Coupon) Candidate {
	return Candidate{Source: SourceCoupon, ID: coupon.ID, Label: coupon.Code, DiscountRule: coupon.DiscountRule}
}

func PromotionCandidate(promotion *models.Promotion) Candidate {
	return Candidate{Source: SourcePromotion, ID: promotion.ID, Label: promotion.Name, DiscountRule: promotion.DiscountRule}
}

// Applied describes the discount chosen for a cart.
type Applied struct {
	Source        Source    `json:"source"`
	ID            uuid.UUID `json:"id"`
	Label         string    `json:"label"`
	DiscountCents int       `json:"discount_cents"`
}

type Quote struct {
	SubtotalCents    int      `json:"subtotal_cents"`
	DiscountCents    int      `json:"discount_cents"`
	DeliveryFeeCents int      `json:"delivery_fee_cents"`
	TotalCents       int      `json:"total_cents"`
	Categories       []string `json:"categories"`
	Applied          *Applied `json:"applied,omitempty"`
}

// CouponCode returns the applied coupon's code, or "" when a promotion or
// nothing won.
func (q Quote) CouponCode() string {
	if q.Applied == nil || q.Applied.Source != SourceCoupon {
		return ""
	}
	return q.Applied.Label
}

func (q Quote) PromotionID() *uuid.UUID {
	if q.Applied == nil || q.Applied.Source != SourcePromotion {
		return nil
	}
	id := q.Applied.ID
	return &id
}

// DeliveryFee is the flat fee charged per order. It is waived once the
// subtotal reaches FreeAboveCents, when that threshold is set.
type DeliveryFee struct {
	FeeCents       int
	FreeAboveCents int
}

func (f DeliveryFee) For(subtotalCents int) int {
	if f.FreeAboveCents > 0 && subtotalCents >= f.FreeAboveCents {
		return 0
	}
	return f.FeeCents
}

// Subtotal sums the line items. Prices and quantities must be positive.
func Subtotal(items []models.LineItem) (int, error) {
	if len(items) == 0 {
		return 0, ErrEmptyCart
	}
	total := 0
	for i, item := range items {
		if item.Quantity < 1 {
			return 0, fmt.Errorf("%w: item %d quantity must be at least 1", ErrInvalidItem, i)
		}
		if item.UnitPriceCents < 0 {
			return 0, fmt.Errorf("%w: item %d price must not be negative", ErrInvalidItem, i)
		}
		total += item.TotalCents()
	}
	return total, nil
}

// Eligible reports whether rule may discount a cart with this subtotal and
// these categories at now.
func Eligible(rule models.DiscountRule, subtotalCents int, categories []string, now time.Time) bool {
	if !rule.ValidAt(now) {
		return false
	}
	if rule.MinOrderCents > subtotalCents {
		return false
	}
	return rule.AppliesTo(categories)
}

var hundred = decimal.NewFromInt(100)

// Discount computes the rule's discount in cents, never more than the subtotal.
// Percentages round half up to the cent before the optional cap applies.
func Discount(rule models.DiscountRule, subtotalCents int) int {
	if subtotalCents <= 0 || rule.DiscountValue.Sign() <= 0 {
		return 0
	}

	var cents int64
	switch rule.DiscountType {
	case models.DiscountPercentage:
		amount := decimal.NewFromInt(int64(subtotalCents)).Mul(rule.DiscountValue).Div(hundred)
		cents = amount.Round(0).IntPart()
		if rule.MaxDiscountCents != nil && cents > int64(*rule.MaxDiscountCents) {
			cents = int64(*rule.MaxDiscountCents)
		}
	case models.DiscountFixed:
		cents = rule.DiscountValue.Mul(hundred).Round(0).IntPart()
	default:
		return 0
	}

	if cents < 0 {
		return 0
	}
	if cents > int64(subtotalCents) {
		return subtotalCents
	}
	return int(cents)
}

// Best returns the eligible candidate with the largest discount. Ties go to
// the higher priority, then to coupons over promotions, then to the lower id
// so the choice never depends on input order. A nil result means no discount.
func Best(candidates []Candidate, subtotalCents int, categories []string, now time.Time) *Applied {
	type scored struct {
		candidate Candidate
		discount  int
	}

	eligible := make([]scored, 0, len(candidates))
	for _, candidate := range candidates {
		if !Eligible(candidate.DiscountRule, subtotalCents, categories, now) {
			continue
		}
		discount := Discount(candidate.DiscountRule, subtotalCents)
		if discount <= 0 {
			continue
		}
		eligible = append(eligible, scored{candidate: candidate, discount: discount})
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.discount != b.discount {
			return a.discount > b.discount
		}
		if a.candidate.Priority != b.candidate.Priority {
			return a.candidate.Priority > b.candidate.Priority
		}
		if a.candidate.Source != b.candidate.Source {
			return a.candidate.Source == SourceCoupon
		}
		return a.candidate.ID.String() < b.candidate.ID.String()
	})

	winner := eligible[0]
	return &Applied{
		Source:        winner.candidate.Source,
		ID:            winner.candidate.ID,
		Label:         winner.candidate.Label,
		DiscountCents: winner.discount,
	}
}

// CheckCoupon validates an explicitly requested coupon against the cart.
func CheckCoupon(coupon *models.Coupon, subtotalCents int, categories []string, now time.Time) error {
	if coupon == nil || !coupon.ValidAt(now) || coupon.Exhausted() {
		return ErrCouponInvalid
	}
	if coupon.MinOrderCents > subtotalCents {
		return fmt.Errorf("%w: minimum order is %d cents", ErrCouponNotApplicable, coupon.MinOrderCents)
	}
	if !coupon.AppliesTo(categories) {
		return fmt.Errorf("%w: no matching categories", ErrCouponNotApplicable)
	}
	return nil
}

// Calculate prices a cart. coupon is the explicitly requested coupon, if any;
// requested reports whether the customer asked for one, so an unknown code
// (nil coupon) is still rejected.
func Calculate(items []models.LineItem, requested bool, coupon *models.Coupon, promotions []*models.Promotion, fee DeliveryFee, now time.Time) (Quote, error) {
	subtotal, err := Subtotal(items)
	if err != nil {
		return Quote{}, err
	}
	categories := models.ItemCategories(items)

	candidates := make([]Candidate, 0, len(promotions)+1)
	for _, promotion := range promotions {
		if promotion != nil {
			candidates = append(candidates, PromotionCandidate(promotion))
		}
	}
	if requested {
		if err := CheckCoupon(coupon, subtotal, categories, now); err != nil {
			return Quote{}, err
		}
		candidates = append(candidates, CouponCandidate(coupon))
	}

	quote := Quote{
		SubtotalCents:    subtotal,
		DeliveryFeeCents: fee.For(subtotal),
		Categories:       categories,
		Applied:          Best(candidates, subtotal, categories, now),
	}
	if quote.Applied != nil {
		quote.DiscountCents = quote.Applied.DiscountCents
	}
	quote.TotalCents = quote.SubtotalCents - quote.DiscountCents + quote.DeliveryFeeCents
	return quote, nil
}
