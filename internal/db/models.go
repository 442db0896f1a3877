package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/orderdesk/orderdesk/internal/models"
)

type Order = models.Order
type OrderStatus = models.OrderStatus
type Coupon = models.Coupon
type Promotion = models.Promotion
type User = models.User

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	// ErrInUse is returned when a row cannot be removed because other rows
	// still reference it.
	ErrInUse = errors.New("record is still in use")
	// ErrConstraint is a write rejected by a CHECK constraint.
	ErrConstraint = errors.New("record violates a constraint")
	// ErrCouponExhausted is returned when a coupon has reached its usage limit
	// or is no longer redeemable.
	ErrCouponExhausted = errors.New("coupon is no longer redeemable")
	// ErrInvalidStatusTransition is the store-level guard failure. It wraps the
	// model error so callers can match either.
	ErrInvalidStatusTransition = models.ErrInvalidStatusTransition
)

const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
	checkViolation      = "23514"
)

// mapError translates driver errors into the package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		return ErrConflict
	case foreignKeyViolation:
		return fmt.Errorf("%w: %s", ErrInUse, pgErr.ConstraintName)
	case checkViolation:
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
	default:
		return err
	}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func nullableString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
