package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// Metric names emitted by the order pipeline.
const (
	MetricOrderCreated       = "orders.created"
	MetricOrderPaid          = "orders.paid"
	MetricPaymentFailed      = "payments.failed"
	MetricStatusChanged      = "orders.status_changed"
	MetricPrintJobQueued     = "print.jobs.queued"
	MetricPrintJobSent       = "print.jobs.sent"
	MetricPrintJobFailed     = "print.jobs.failed"
	MetricCouponRedeemed     = "coupons.redeemed"
	MetricEmailFailed        = "email.failed"
	MetricWebhookDuplicate   = "stripe.webhook.duplicate"
	MetricTrackingConnection = "tracking.connections"
	MetricEventFailed        = "events.publish_failed"
)

// HTTP server metrics recorded by the request logger.
const (
	MetricHTTPRequests       = "http.server.requests"
	MetricHTTPErrors         = "http.server.errors"
	MetricHTTPDuration       = "http.server.duration"
	MetricTrackingSessionLen = "tracking.session.duration"
)

type meterContextKey struct{}

// WithMeter returns a context carrying the provided meter.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterContextKey{}, meter.WithCtx(ctx))
}

// MeterFromContext returns the request-scoped meter from context or a new one.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter, ok := ctx.Value(meterContextKey{}).(sentry.Meter); ok && meter != nil {
		return meter.WithCtx(ctx)
	}
	return sentry.NewMeter(ctx).WithCtx(ctx)
}

