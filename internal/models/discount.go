package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// DiscountRule is the part shared by coupons and promotions.
type DiscountRule struct {
	DiscountType     DiscountType    `json:"discount_type"`
	DiscountValue    decimal.Decimal `json:"discount_value"`
	MaxDiscountCents *int            `json:"max_discount_cents,omitempty"`
	MinOrderCents    int             `json:"min_order_cents"`
	ApplyToAll       bool            `json:"apply_to_all"`
	Categories       []string        `json:"categories"`
	Active           bool            `json:"active"`
	StartsAt         *time.Time      `json:"starts_at,omitempty"`
	EndsAt           *time.Time      `json:"ends_at,omitempty"`
	Priority         int             `json:"priority"`
}

// ValidAt reports whether the rule is active and inside its validity window.
func (r DiscountRule) ValidAt(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return false
	}
	return true
}

// AppliesTo reports whether the rule covers at least one of the categories.
func (r DiscountRule) AppliesTo(categories []string) bool {
	if r.ApplyToAll {
		return true
	}
	for _, want := range r.Categories {
		for _, have := range categories {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

type Coupon struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	DiscountRule
	MaxUses   *int      `json:"max_uses,omitempty"`
	UsedCount int       `json:"used_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Coupon) Exhausted() bool {
	return c != nil && c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

type Promotion struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	DiscountRule
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeCouponCode makes coupon codes case-insensitive.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
