package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/stripe"
)

// The services depend on these narrow views of the db stores so tests can
// swap in fakes.

type orderStore interface {
	Create(ctx context.Context, order *models.Order, actor models.StatusEvent) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error)
	List(ctx context.Context, filter db.OrderFilter) ([]*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentIntentID string) (bool, error)
	Transition(ctx context.Context, orderID uuid.UUID, from models.OrderStatus, event models.StatusEvent, deliveryUserID *uuid.UUID) (*models.Order, error)
	UpdateLocation(ctx context.Context, orderID uuid.UUID, latitude, longitude float64) (*models.Location, error)
}

type couponStore interface {
	Create(ctx context.Context, coupon *models.Coupon) error
	Update(ctx context.Context, coupon *models.Coupon) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	GetByCode(ctx context.Context, code string) (*models.Coupon, error)
	List(ctx context.Context) ([]*models.Coupon, error)
}

type promotionStore interface {
	Create(ctx context.Context, promotion *models.Promotion) error
	Update(ctx context.Context, promotion *models.Promotion) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
	List(ctx context.Context) ([]*models.Promotion, error)
	ListActive(ctx context.Context, now time.Time) ([]*models.Promotion, error)
}

type userStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateCredentials(ctx context.Context, id uuid.UUID, passwordHash string, role models.Role) error
	AddAddress(ctx context.Context, id uuid.UUID, address models.Address) error
}

type paymentIntents interface {
	CreatePaymentIntent(ctx context.Context, params stripe.IntentParams) (*stripe.Intent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.Intent, error)
}

// tracker receives live updates for websocket subscribers.
type tracker interface {
	Publish(orderID uuid.UUID, kind string, data any)
}

type nopTracker struct{}

func (nopTracker) Publish(uuid.UUID, string, any) {}

var (
	_ orderStore     = (*db.OrderStore)(nil)
	_ couponStore    = (*db.CouponStore)(nil)
	_ promotionStore = (*db.PromotionStore)(nil)
	_ userStore      = (*db.UserStore)(nil)
	_ paymentIntents = (*stripe.PaymentClient)(nil)
)
