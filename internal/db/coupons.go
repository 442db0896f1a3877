package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/orderdesk/orderdesk/internal/models"
)

type CouponStore struct {
	pool *pgxpool.Pool
}

func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

// ruleColumns are shared by the coupons and promotions tables.
var ruleColumns = []string{
	"discount_type", "discount_value::text", "max_discount_cents", "min_order_cents",
	"apply_to_all", "categories", "active", "starts_at", "ends_at", "priority",
}

func couponColumns() []string {
	columns := []string{"id", "code"}
	columns = append(columns, ruleColumns...)
	return append(columns, "max_uses", "used_count", "created_at", "updated_at")
}

func (s *CouponStore) Create(ctx context.Context, coupon *Coupon) error {
	categories, err := encodeCategories(coupon.Categories)
	if err != nil {
		return err
	}
	coupon.Code = models.NormalizeCouponCode(coupon.Code)

	query := `
		INSERT INTO coupons (
			code, discount_type, discount_value, max_discount_cents, min_order_cents,
			apply_to_all, categories, active, starts_at, ends_at, priority, max_uses
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, used_count, created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		coupon.Code, string(coupon.DiscountType), coupon.DiscountValue.String(), coupon.MaxDiscountCents,
		coupon.MinOrderCents, coupon.ApplyToAll, categories, coupon.Active, coupon.StartsAt, coupon.EndsAt,
		coupon.Priority, coupon.MaxUses,
	).Scan(&coupon.ID, &coupon.UsedCount, &coupon.CreatedAt, &coupon.UpdatedAt)
	return mapError(err)
}

func (s *CouponStore) Update(ctx context.Context, coupon *Coupon) error {
	categories, err := encodeCategories(coupon.Categories)
	if err != nil {
		return err
	}
	coupon.Code = models.NormalizeCouponCode(coupon.Code)

	query := `
		UPDATE coupons
		SET code = $2, discount_type = $3, discount_value = $4::numeric, max_discount_cents = $5,
		    min_order_cents = $6, apply_to_all = $7, categories = $8, active = $9, starts_at = $10,
		    ends_at = $11, priority = $12, max_uses = $13, updated_at = NOW()
		WHERE id = $1
		RETURNING used_count, created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		coupon.ID, coupon.Code, string(coupon.DiscountType), coupon.DiscountValue.String(), coupon.MaxDiscountCents,
		coupon.MinOrderCents, coupon.ApplyToAll, categories, coupon.Active, coupon.StartsAt, coupon.EndsAt,
		coupon.Priority, coupon.MaxUses,
	).Scan(&coupon.UsedCount, &coupon.CreatedAt, &coupon.UpdatedAt)
	return mapError(err)
}

func (s *CouponStore) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := s.pool.Exec(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CouponStore) GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	return s.getOne(ctx, sq.Eq{"id": id.String()})
}

// GetByCode looks a coupon up case-insensitively.
func (s *CouponStore) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	return s.getOne(ctx, sq.Eq{"code": models.NormalizeCouponCode(code)})
}

func (s *CouponStore) List(ctx context.Context) ([]*Coupon, error) {
	query, args, err := sq.Select(couponColumns()...).
		From("coupons").
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coupons := make([]*Coupon, 0)
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, coupon)
	}
	return coupons, rows.Err()
}

func (s *CouponStore) getOne(ctx context.Context, where sq.Eq) (*Coupon, error) {
	query, args, err := sq.Select(couponColumns()...).
		From("coupons").
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}
	coupon, err := scanCoupon(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return coupon, nil
}

// redeemCoupon increments used_count only while the coupon is active and below
// its usage limit, so two concurrent orders cannot both take the last use.
func redeemCoupon(ctx context.Context, tx pgx.Tx, code string) error {
	query := `
		UPDATE coupons
		SET used_count = used_count + 1, updated_at = NOW()
		WHERE code = $1 AND active AND (max_uses IS NULL OR used_count < max_uses)
	`
	cmdTag, err := tx.Exec(ctx, query, models.NormalizeCouponCode(code))
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCouponExhausted, models.NormalizeCouponCode(code))
	}
	return nil
}

func scanCoupon(row rowScanner) (*Coupon, error) {
	var (
		coupon Coupon
		rule   ruleScan
	)
	dest := []any{&coupon.ID, &coupon.Code}
	dest = append(dest, rule.targets()...)
	dest = append(dest, &coupon.MaxUses, &coupon.UsedCount, &coupon.CreatedAt, &coupon.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	parsed, err := rule.rule()
	if err != nil {
		return nil, err
	}
	coupon.DiscountRule = parsed
	return &coupon, nil
}

// ruleScan holds the raw column values of a discount rule.
type ruleScan struct {
	models.DiscountRule
	discountType  string
	discountValue string
	categories    []byte
}

func (r *ruleScan) targets() []any {
	return []any{
		&r.discountType, &r.discountValue, &r.MaxDiscountCents, &r.MinOrderCents,
		&r.ApplyToAll, &r.categories, &r.Active, &r.StartsAt, &r.EndsAt, &r.Priority,
	}
}

func (r *ruleScan) rule() (models.DiscountRule, error) {
	value, err := decimal.NewFromString(r.discountValue)
	if err != nil {
		return models.DiscountRule{}, fmt.Errorf("failed to parse discount value %q: %w", r.discountValue, err)
	}
	rule := r.DiscountRule
	rule.DiscountType = models.DiscountType(r.discountType)
	rule.DiscountValue = value
	rule.Categories = []string{}
	if len(r.categories) > 0 {
		if err := json.Unmarshal(r.categories, &rule.Categories); err != nil {
			return models.DiscountRule{}, fmt.Errorf("failed to decode categories: %w", err)
		}
	}
	return rule, nil
}

func encodeCategories(categories []string) ([]byte, error) {
	cleaned := make([]string, 0, len(categories))
	for _, category := range categories {
		if trimmed := strings.TrimSpace(category); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return json.Marshal(cleaned)
}
