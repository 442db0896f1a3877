package db

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PromotionStore struct {
	pool *pgxpool.Pool
}

func NewPromotionStore(pool *pgxpool.Pool) *PromotionStore {
	return &PromotionStore{pool: pool}
}

func promotionColumns() []string {
	columns := []string{"id", "name"}
	columns = append(columns, ruleColumns...)
	return append(columns, "created_at", "updated_at")
}

func (s *PromotionStore) Create(ctx context.Context, promotion *Promotion) error {
	categories, err := encodeCategories(promotion.Categories)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO promotions (
			name, discount_type, discount_value, max_discount_cents, min_order_cents,
			apply_to_all, categories, active, starts_at, ends_at, priority
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		promotion.Name, string(promotion.DiscountType), promotion.DiscountValue.String(), promotion.MaxDiscountCents,
		promotion.MinOrderCents, promotion.ApplyToAll, categories, promotion.Active, promotion.StartsAt,
		promotion.EndsAt, promotion.Priority,
	).Scan(&promotion.ID, &promotion.CreatedAt, &promotion.UpdatedAt)
	return mapError(err)
}

func (s *PromotionStore) Update(ctx context.Context, promotion *Promotion) error {
	categories, err := encodeCategories(promotion.Categories)
	if err != nil {
		return err
	}

	query := `
		UPDATE promotions
		SET name = $2, discount_type = $3, discount_value = $4::numeric, max_discount_cents = $5,
		    min_order_cents = $6, apply_to_all = $7, categories = $8, active = $9, starts_at = $10,
		    ends_at = $11, priority = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		promotion.ID, promotion.Name, string(promotion.DiscountType), promotion.DiscountValue.String(),
		promotion.MaxDiscountCents, promotion.MinOrderCents, promotion.ApplyToAll, categories, promotion.Active,
		promotion.StartsAt, promotion.EndsAt, promotion.Priority,
	).Scan(&promotion.CreatedAt, &promotion.UpdatedAt)
	return mapError(err)
}

func (s *PromotionStore) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := s.pool.Exec(ctx, `DELETE FROM promotions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PromotionStore) GetByID(ctx context.Context, id uuid.UUID) (*Promotion, error) {
	query, args, err := sq.Select(promotionColumns()...).
		From("promotions").
		Where(sq.Eq{"id": id.String()}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}
	promotion, err := scanPromotion(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return promotion, nil
}

func (s *PromotionStore) List(ctx context.Context) ([]*Promotion, error) {
	return s.list(ctx, sq.Select(promotionColumns()...).From("promotions"))
}

// ListActive returns promotions that are switched on and inside their
// validity window at now.
func (s *PromotionStore) ListActive(ctx context.Context, now time.Time) ([]*Promotion, error) {
	builder := sq.Select(promotionColumns()...).
		From("promotions").
		Where(sq.Eq{"active": true}).
		Where(sq.Or{sq.Eq{"starts_at": nil}, sq.LtOrEq{"starts_at": now}}).
		Where(sq.Or{sq.Eq{"ends_at": nil}, sq.GtOrEq{"ends_at": now}})
	return s.list(ctx, builder)
}

func (s *PromotionStore) list(ctx context.Context, builder sq.SelectBuilder) ([]*Promotion, error) {
	query, args, err := builder.
		OrderBy("priority DESC", "created_at").
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

	promotions := make([]*Promotion, 0)
	for rows.Next() {
		promotion, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		promotions = append(promotions, promotion)
	}
	return promotions, rows.Err()
}

func scanPromotion(row rowScanner) (*Promotion, error) {
	var (
		promotion Promotion
		rule      ruleScan
	)
	dest := []any{&promotion.ID, &promotion.Name}
	dest = append(dest, rule.targets()...)
	dest = append(dest, &promotion.CreatedAt, &promotion.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	parsed, err := rule.rule()
	if err != nil {
		return nil, err
	}
	promotion.DiscountRule = parsed
	return &promotion, nil
}
