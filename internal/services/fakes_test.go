package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/events"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/stripe"
)

type fakeOrderStore struct {
	mu      sync.Mutex
	seq     int64
	orders  map[uuid.UUID]*models.Order
	coupons *fakeCouponStore
}

func newFakeOrderStore(coupons *fakeCouponStore) *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[uuid.UUID]*models.Order), coupons: coupons}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.LineItem(nil), o.Items...)
	c.History = append([]models.StatusEvent(nil), o.History...)
	return &c
}

func (f *fakeOrderStore) Create(ctx context.Context, order *models.Order, actor models.StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if order.CouponCode != "" && f.coupons != nil {
		if err := f.coupons.redeem(order.CouponCode); err != nil {
			return err
		}
	}
	f.seq++
	order.ID = uuid.New()
	order.OrderNumber = models.FormatOrderNumber(f.seq)
	order.Status = models.StatusPending
	order.PaymentStatus = models.PaymentPending
	order.CreatedAt = time.Now().UTC()
	actor.To = models.StatusPending
	actor.At = order.CreatedAt
	order.History = []models.StatusEvent{actor}
	f.orders[order.ID] = cloneOrder(order)
	return nil
}

func (f *fakeOrderStore) put(order *models.Order) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	f.orders[order.ID] = cloneOrder(order)
	return order
}

func (f *fakeOrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (f *fakeOrderStore) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.PaymentIntentID == paymentIntentID {
			return cloneOrder(order), nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeOrderStore) List(ctx context.Context, filter db.OrderFilter) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, order := range f.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.CustomerID != nil && order.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.DeliveryUserID != nil && (order.DeliveryUserID == nil || *order.DeliveryUserID != *filter.DeliveryUserID) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber > out[j].OrderNumber })
	return out, nil
}

func (f *fakeOrderStore) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentIntentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return false, db.ErrNotFound
	}
	if order.PaymentStatus == models.PaymentPaid {
		return false, nil
	}
	now := time.Now().UTC()
	order.PaymentStatus = models.PaymentPaid
	order.PaidAt = &now
	if paymentIntentID != "" {
		order.PaymentIntentID = paymentIntentID
	}
	return true, nil
}

func (f *fakeOrderStore) Transition(ctx context.Context, orderID uuid.UUID, from models.OrderStatus, event models.StatusEvent, deliveryUserID *uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if order.Status != from {
		return nil, fmt.Errorf("%w: expected %s", db.ErrInvalidStatusTransition, from)
	}
	now := time.Now().UTC()
	order.Status = event.To
	switch event.To {
	case models.StatusAssigned:
		order.AssignedAt = &now
	case models.StatusPickedUp:
		order.PickedUpAt = &now
	case models.StatusOutForDelivery:
		order.OutForDeliveryAt = &now
	case models.StatusDelivered:
		order.DeliveredAt = &now
	case models.StatusCancelled:
		order.CancelledAt = &now
	}
	if deliveryUserID != nil {
		id := *deliveryUserID
		order.DeliveryUserID = &id
	}
	if event.Latitude != nil {
		order.CurrentLocation = &models.Location{Latitude: *event.Latitude, Longitude: *event.Longitude, RecordedAt: now}
	}
	event.From = from
	order.History = append(order.History, event)
	return cloneOrder(order), nil
}

func (f *fakeOrderStore) UpdateLocation(ctx context.Context, orderID uuid.UUID, latitude, longitude float64) (*models.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if !order.Status.TracksLocation() {
		return nil, fmt.Errorf("%w: not out for delivery", db.ErrInvalidStatusTransition)
	}
	order.CurrentLocation = &models.Location{Latitude: latitude, Longitude: longitude, RecordedAt: time.Now().UTC()}
	location := *order.CurrentLocation
	return &location, nil
}

type fakeCouponStore struct {
	mu      sync.Mutex
	coupons map[uuid.UUID]*models.Coupon
}

func newFakeCouponStore(coupons ...*models.Coupon) *fakeCouponStore {
	f := &fakeCouponStore{coupons: make(map[uuid.UUID]*models.Coupon)}
	for _, c := range coupons {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		f.coupons[c.ID] = c
	}
	return f
}

func (f *fakeCouponStore) redeem(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.coupons {
		if c.Code != models.NormalizeCouponCode(code) {
			continue
		}
		if !c.Active || c.Exhausted() {
			return db.ErrCouponExhausted
		}
		c.UsedCount++
		return nil
	}
	return db.ErrCouponExhausted
}

func (f *fakeCouponStore) Create(ctx context.Context, coupon *models.Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.coupons {
		if c.Code == coupon.Code {
			return db.ErrConflict
		}
	}
	coupon.ID = uuid.New()
	copied := *coupon
	f.coupons[coupon.ID] = &copied
	return nil
}

func (f *fakeCouponStore) Update(ctx context.Context, coupon *models.Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.coupons[coupon.ID]; !ok {
		return db.ErrNotFound
	}
	copied := *coupon
	f.coupons[coupon.ID] = &copied
	return nil
}

func (f *fakeCouponStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.coupons[id]; !ok {
		return db.ErrNotFound
	}
	delete(f.coupons, id)
	return nil
}

func (f *fakeCouponStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCouponStore) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.coupons {
		if c.Code == models.NormalizeCouponCode(code) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeCouponStore) List(ctx context.Context) ([]*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Coupon, 0, len(f.coupons))
	for _, c := range f.coupons {
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

type fakePromotionStore struct {
	mu          sync.Mutex
	promotions  map[uuid.UUID]*models.Promotion
	activeCalls int
	// applied marks promotions that orders reference, which the database
	// refuses to delete.
	applied map[uuid.UUID]bool
}

func newFakePromotionStore(promotions ...*models.Promotion) *fakePromotionStore {
	f := &fakePromotionStore{promotions: make(map[uuid.UUID]*models.Promotion)}
	for _, p := range promotions {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		f.promotions[p.ID] = p
	}
	return f
}

func (f *fakePromotionStore) Create(ctx context.Context, promotion *models.Promotion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	promotion.ID = uuid.New()
	copied := *promotion
	f.promotions[promotion.ID] = &copied
	return nil
}

func (f *fakePromotionStore) Update(ctx context.Context, promotion *models.Promotion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.promotions[promotion.ID]; !ok {
		return db.ErrNotFound
	}
	copied := *promotion
	f.promotions[promotion.ID] = &copied
	return nil
}

func (f *fakePromotionStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.promotions[id]; !ok {
		return db.ErrNotFound
	}
	if f.applied[id] {
		return fmt.Errorf("%w: orders_promotion_id_fkey", db.ErrInUse)
	}
	delete(f.promotions, id)
	return nil
}

func (f *fakePromotionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promotions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakePromotionStore) List(ctx context.Context) ([]*models.Promotion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Promotion, 0, len(f.promotions))
	for _, p := range f.promotions {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakePromotionStore) ListActive(ctx context.Context, now time.Time) ([]*models.Promotion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeCalls++
	var out []*models.Promotion
	for _, p := range f.promotions {
		if p.ValidAt(now) {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakePromotionStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeCalls
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	f := &fakeUserStore{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserStore) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, user.Email) {
			return db.ErrConflict
		}
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now().UTC()
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *u
	copied.Addresses = append([]models.Address(nil), u.Addresses...)
	return &copied, nil
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeUserStore) UpdateCredentials(ctx context.Context, id uuid.UUID, passwordHash string, role models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return db.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.Role = role
	return nil
}

func (f *fakeUserStore) AddAddress(ctx context.Context, id uuid.UUID, address models.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return db.ErrNotFound
	}
	u.Addresses = append(u.Addresses, address)
	return nil
}

type fakeIntents struct {
	mu      sync.Mutex
	intents map[string]*stripe.Intent
	created []stripe.IntentParams
}

func newFakeIntents(intents ...*stripe.Intent) *fakeIntents {
	f := &fakeIntents{intents: make(map[string]*stripe.Intent)}
	for _, i := range intents {
		f.intents[i.ID] = i
	}
	return f
}

func (f *fakeIntents) CreatePaymentIntent(ctx context.Context, params stripe.IntentParams) (*stripe.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, params)
	id := fmt.Sprintf("pi_%d", len(f.created))
	intent := &stripe.Intent{ID: id, ClientSecret: id + "_secret", AmountCents: params.AmountCents, Currency: params.Currency, Status: "requires_payment_method"}
	f.intents[id] = intent
	return intent, nil
}

func (f *fakeIntents) GetPaymentIntent(ctx context.Context, id string) (*stripe.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment_intent: %s", id)
	}
	copied := *intent
	return &copied, nil
}

type trackedMessage struct {
	OrderID uuid.UUID
	Kind    string
	Data    any
}

type recordingTracker struct {
	mu       sync.Mutex
	messages []trackedMessage
}

func (r *recordingTracker) Publish(orderID uuid.UUID, kind string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, trackedMessage{OrderID: orderID, Kind: kind, Data: data})
}

func (r *recordingTracker) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Kind)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// recordingEmailSender reports each send on a channel because sends happen in
// the background.
type recordingEmailSender struct {
	sent chan string
}

func newRecordingEmailSender() *recordingEmailSender {
	return &recordingEmailSender{sent: make(chan string, 16)}
}

func (r *recordingEmailSender) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	r.sent <- "confirmation:" + order.OrderNumber
	return nil
}

func (r *recordingEmailSender) SendStatusUpdate(ctx context.Context, order *models.Order) error {
	r.sent <- "status:" + string(order.Status)
	return nil
}

// expect waits for the given sends in any order.
func (r *recordingEmailSender) expect(t *testing.T, want ...string) {
	t.Helper()
	var got []string
	for range want {
		select {
		case sent := <-r.sent:
			got = append(got, sent)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for emails %v, got %v", want, got)
		}
	}
	want = append([]string(nil), want...)
	sort.Strings(got)
	sort.Strings(want)
	if !slices.Equal(got, want) {
		t.Fatalf("emails = %v, want %v", got, want)
	}
}

func principal(user *models.User) auth.Principal {
	return auth.Principal{UserID: user.ID, Role: user.Role}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
