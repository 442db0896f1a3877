package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/observability"
	"github.com/orderdesk/orderdesk/internal/stripe"
)

type intentHandler interface {
	HandleIntentSucceeded(ctx context.Context, intent *stripe.Intent) error
	HandleIntentFailed(ctx context.Context, intent *stripe.Intent)
}

// StripeEventRouter dispatches verified Stripe events to the payment service.
type StripeEventRouter struct {
	payments intentHandler
	logger   *slog.Logger
}

func NewStripeEventRouter(payments intentHandler, logger *slog.Logger) *StripeEventRouter {
	return &StripeEventRouter{
		payments: payments,
		logger:   logger,
	}
}

func (r *StripeEventRouter) Handle(ctx context.Context, event *stripeapi.Event) error {
	span := sentry.StartSpan(
		ctx,
		"handler.stripe_router.handle",
		sentry.WithOpName("handler.stripe_router"),
		sentry.WithDescription("StripeEventRouter.Handle"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "stripe"))
	meter.Count("webhook.router.received", 1)
	recordFailed := func(reason string) {
		meter.Count("webhook.router.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	if event == nil {
		recordFailed("missing_event")
		return fmt.Errorf("missing stripe event")
	}
	if event.Data == nil {
		recordFailed("missing_event_data")
		return fmt.Errorf("missing stripe event data")
	}
	meter.SetAttributes(attribute.String("webhook.event_type", string(event.Type)))

	logger := logging.FromContext(ctx, r.logger)

	switch event.Type {
	case stripeapi.EventTypePaymentIntentSucceeded:
		intent, err := stripe.IntentFromEvent(event)
		if err != nil {
			recordFailed("payment_intent_decode_failed")
			return err
		}
		if err := r.payments.HandleIntentSucceeded(ctx, intent); err != nil {
			recordFailed("payment_intent_succeeded_failed")
			return err
		}
	case stripeapi.EventTypePaymentIntentPaymentFailed:
		intent, err := stripe.IntentFromEvent(event)
		if err != nil {
			recordFailed("payment_intent_decode_failed")
			return err
		}
		r.payments.HandleIntentFailed(ctx, intent)
	default:
		logger.Info("unhandled Stripe event type", "type", event.Type)
		meter.Count("webhook.router.unhandled", 1)
		span.Status = sentry.SpanStatusOK
		return nil
	}

	meter.Count("webhook.router.processed", 1)
	span.Status = sentry.SpanStatusOK
	return nil
}
