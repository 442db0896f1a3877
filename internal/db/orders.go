package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdesk/orderdesk/internal/models"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// OrderFilter narrows List. Zero values mean "any".
type OrderFilter struct {
	Status         models.OrderStatus
	PaymentStatus  models.PaymentStatus
	CustomerID     *uuid.UUID
	DeliveryUserID *uuid.UUID
	Limit          int
	Offset         int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var orderColumns = []string{
	"id", "order_number", "customer_id", "customer_name", "customer_phone", "customer_email",
	"delivery_address", "items", "subtotal_cents", "delivery_fee_cents", "discount_cents", "total_cents",
	"coupon_code", "promotion_id", "payment_method", "payment_status", "payment_intent_id",
	"status", "delivery_user_id", "current_latitude", "current_longitude", "location_recorded_at",
	"created_at", "paid_at", "assigned_at", "picked_up_at", "out_for_delivery_at", "delivered_at", "cancelled_at",
}

// statusTimestampColumns holds the column stamped when an order enters a status.
var statusTimestampColumns = map[models.OrderStatus]string{
	models.StatusAssigned:       "assigned_at",
	models.StatusPickedUp:       "picked_up_at",
	models.StatusOutForDelivery: "out_for_delivery_at",
	models.StatusDelivered:      "delivered_at",
	models.StatusCancelled:      "cancelled_at",
}

// Create inserts a pending order. The order number comes from a database
// sequence, and when the order carries a coupon code the coupon is redeemed in
// the same transaction.
func (s *OrderStore) Create(ctx context.Context, order *Order, actor models.StatusEvent) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}

	addressJSON, err := json.Marshal(order.DeliveryAddress)
	if err != nil {
		return err
	}
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if order.CouponCode != "" {
		if err := redeemCoupon(ctx, tx, order.CouponCode); err != nil {
			return err
		}
	}

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return err
	}
	order.OrderNumber = models.FormatOrderNumber(seq)
	order.Status = models.StatusPending
	order.PaymentStatus = models.PaymentPending

	query := `
		INSERT INTO orders (
			order_number, customer_id, customer_name, customer_phone, customer_email,
			delivery_address, items, subtotal_cents, delivery_fee_cents, discount_cents, total_cents,
			coupon_code, promotion_id, payment_method, payment_status, payment_intent_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		order.OrderNumber, order.CustomerID, order.CustomerName, order.CustomerPhone, order.CustomerEmail,
		addressJSON, itemsJSON, order.SubtotalCents, order.DeliveryFeeCents, order.DiscountCents, order.TotalCents,
		nullableString(order.CouponCode), order.PromotionID, string(order.PaymentMethod), string(order.PaymentStatus),
		nullableString(order.PaymentIntentID), string(order.Status),
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return mapError(err)
	}

	actor.From = ""
	actor.To = models.StatusPending
	event, err := insertStatusEvent(ctx, tx, order.ID, actor)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	order.History = []models.StatusEvent{event}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query, args, err := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": orderID.String()}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	order, err := scanOrder(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err)
	}
	if order.History, err = s.History(ctx, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderStore) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*Order, error) {
	query, args, err := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"payment_intent_id": paymentIntentID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	order, err := scanOrder(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return order, nil
}

// List returns orders newest first. History is not loaded.
func (s *OrderStore) List(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	builder := sq.Select(orderColumns...).
		From("orders").
		OrderBy("created_at DESC", "order_number DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		PlaceholderFormat(sq.Dollar)
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.PaymentStatus != "" {
		builder = builder.Where(sq.Eq{"payment_status": string(filter.PaymentStatus)})
	}
	if filter.CustomerID != nil {
		builder = builder.Where(sq.Eq{"customer_id": filter.CustomerID.String()})
	}
	if filter.DeliveryUserID != nil {
		builder = builder.Where(sq.Eq{"delivery_user_id": filter.DeliveryUserID.String()})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// MarkPaid moves payment status from pending to paid. It reports false
// without error when the order was already paid.
func (s *OrderStore) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentIntentID string) (bool, error) {
	query := `
		UPDATE orders
		SET payment_status = 'paid', paid_at = NOW(),
		    payment_intent_id = COALESCE($2, payment_intent_id)
		WHERE id = $1 AND payment_status = 'pending'
	`
	cmdTag, err := s.pool.Exec(ctx, query, orderID, nullableString(paymentIntentID))
	if err != nil {
		return false, mapError(err)
	}
	if cmdTag.RowsAffected() > 0 {
		return true, nil
	}

	var paymentStatus string
	err = s.pool.QueryRow(ctx, `SELECT payment_status FROM orders WHERE id = $1`, orderID).Scan(&paymentStatus)
	if err != nil {
		return false, mapError(err)
	}
	if models.PaymentStatus(paymentStatus) == models.PaymentPaid {
		return false, nil
	}
	return false, fmt.Errorf("%w: expected payment pending", ErrInvalidStatusTransition)
}

// Transition moves an order from one status to another with a
// compare-and-set on the current status, stamps the status timestamp and
// appends the history event in one transaction.
func (s *OrderStore) Transition(ctx context.Context, orderID uuid.UUID, from models.OrderStatus, event models.StatusEvent, deliveryUserID *uuid.UUID) (*Order, error) {
	column, ok := statusTimestampColumns[event.To]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownStatus, event.To)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`
		UPDATE orders
		SET status = $1, %s = NOW(),
		    delivery_user_id = COALESCE($2, delivery_user_id),
		    current_latitude = COALESCE($3, current_latitude),
		    current_longitude = COALESCE($4, current_longitude),
		    location_recorded_at = CASE WHEN $3::double precision IS NULL THEN location_recorded_at ELSE NOW() END
		WHERE id = $5 AND status = $6
	`, column)
	lat, lng := eventCoordinates(event)
	cmdTag, err := tx.Exec(ctx, query, string(event.To), deliveryUserID, lat, lng, orderID, string(from))
	if err != nil {
		return nil, mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		if err := orderExists(ctx, tx, orderID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: expected %s", ErrInvalidStatusTransition, from)
	}

	event.From = from
	if _, err := insertStatusEvent(ctx, tx, orderID, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return s.GetByID(ctx, orderID)
}

// UpdateLocation records a live location for an order that is out with a
// delivery user.
func (s *OrderStore) UpdateLocation(ctx context.Context, orderID uuid.UUID, latitude, longitude float64) (*models.Location, error) {
	query := `
		UPDATE orders
		SET current_latitude = $1, current_longitude = $2, location_recorded_at = NOW()
		WHERE id = $3 AND status IN ('assigned', 'picked_up', 'out_for_delivery')
		RETURNING location_recorded_at
	`
	var recordedAt time.Time
	err := s.pool.QueryRow(ctx, query, latitude, longitude, orderID).Scan(&recordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := orderExists(ctx, s.pool, orderID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: expected assigned/picked_up/out_for_delivery", ErrInvalidStatusTransition)
	}
	if err != nil {
		return nil, err
	}
	return &models.Location{Latitude: latitude, Longitude: longitude, RecordedAt: recordedAt}, nil
}

func (s *OrderStore) History(ctx context.Context, orderID uuid.UUID) ([]models.StatusEvent, error) {
	query := `
		SELECT from_status, to_status, actor_id, actor_role, latitude, longitude, created_at
		FROM order_status_events
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]models.StatusEvent, 0)
	for rows.Next() {
		event, err := scanStatusEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func orderExists(ctx context.Context, q queryRower, orderID uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func insertStatusEvent(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, event models.StatusEvent) (models.StatusEvent, error) {
	query := `
		INSERT INTO order_status_events (order_id, from_status, to_status, actor_id, actor_role, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	lat, lng := eventCoordinates(event)
	err := tx.QueryRow(ctx, query,
		orderID, nullableString(string(event.From)), string(event.To), event.ActorID, string(event.ActorRole), lat, lng,
	).Scan(&event.At)
	if err != nil {
		return models.StatusEvent{}, err
	}
	return event, nil
}

func eventCoordinates(event models.StatusEvent) (*float64, *float64) {
	if event.Latitude == nil || event.Longitude == nil {
		return nil, nil
	}
	return event.Latitude, event.Longitude
}

func scanStatusEvent(row rowScanner) (models.StatusEvent, error) {
	var (
		event    models.StatusEvent
		from     *string
		to, role string
	)
	if err := row.Scan(&from, &to, &event.ActorID, &role, &event.Latitude, &event.Longitude, &event.At); err != nil {
		return models.StatusEvent{}, err
	}
	if from != nil {
		event.From = models.OrderStatus(*from)
	}
	event.To = models.OrderStatus(to)
	event.ActorRole = models.Role(role)
	return event, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		order                                Order
		addressJSON, itemsJSON               []byte
		couponCode, paymentIntentID          *string
		paymentMethod, paymentStatus, status string
		latitude, longitude                  *float64
		locationRecordedAt                   *time.Time
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &order.CustomerName, &order.CustomerPhone, &order.CustomerEmail,
		&addressJSON, &itemsJSON, &order.SubtotalCents, &order.DeliveryFeeCents, &order.DiscountCents, &order.TotalCents,
		&couponCode, &order.PromotionID, &paymentMethod, &paymentStatus, &paymentIntentID,
		&status, &order.DeliveryUserID, &latitude, &longitude, &locationRecordedAt,
		&order.CreatedAt, &order.PaidAt, &order.AssignedAt, &order.PickedUpAt, &order.OutForDeliveryAt, &order.DeliveredAt, &order.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(addressJSON, &order.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("failed to decode delivery address: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	if couponCode != nil {
		order.CouponCode = *couponCode
	}
	if paymentIntentID != nil {
		order.PaymentIntentID = *paymentIntentID
	}
	order.PaymentMethod = models.PaymentMethod(paymentMethod)
	order.PaymentStatus = models.PaymentStatus(paymentStatus)
	order.Status = models.OrderStatus(status)
	if latitude != nil && longitude != nil && locationRecordedAt != nil {
		order.CurrentLocation = &models.Location{
			Latitude:   *latitude,
			Longitude:  *longitude,
			RecordedAt: *locationRecordedAt,
		}
	}

	return &order, nil
}
