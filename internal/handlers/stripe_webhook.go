package handlers

import (
	"net/http"
	"time"

	"github.com/orderdesk/orderdesk/internal/cache"
	"github.com/orderdesk/orderdesk/internal/observability"
	stripewebhook "github.com/orderdesk/orderdesk/internal/stripe"
)

const (
	// stripeWebhookIdempotencyTTL is how long webhook event IDs are kept for deduplication
	stripeWebhookIdempotencyTTL = 24 * time.Hour
	// stripeWebhookClaimTTL bounds how long a crashed delivery blocks retries.
	stripeWebhookClaimTTL = 2 * time.Minute
)

// StripeWebhook verifies the signature, claims the event id so concurrent
// deliveries run once, and routes it. A failed event releases its claim so
// Stripe's retry is processed.
func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	event, err := stripewebhook.ReadWebhookEvent(r, h.config.StripeWebhookSecret)
	if err != nil {
		logger.Error("failed to read Stripe webhook payload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}

	if event == nil || event.ID == "" {
		logger.Error("missing Stripe event ID")
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	if h.stripeRouter == nil {
		logger.Error("stripe event router not configured")
		writeError(w, http.StatusInternalServerError, "webhook handler not configured")
		return
	}

	cacheKey := cache.WebhookKey("stripe", event.ID)
	claimed, err := h.cacheProvider.SetIfAbsent(ctx, cacheKey, "processing", stripeWebhookClaimTTL)
	if err != nil {
		// Handlers are idempotent on their own; a cache outage only loses dedup.
		logger.Warn("webhook idempotency cache unavailable", "error", err, "event_id", event.ID)
		claimed = true
	}
	if !claimed {
		observability.MeterFromContext(ctx).Count(observability.MetricWebhookDuplicate, 1)
		logger.Info("webhook already processed", "event_id", event.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.stripeRouter.Handle(ctx, event); err != nil {
		logger.Error("failed to process Stripe webhook", "error", err, "type", event.Type, "event_id", event.ID)
		if err := h.cacheProvider.Delete(ctx, cacheKey); err != nil {
			logger.Warn("failed to release webhook claim", "error", err, "event_id", event.ID)
		}
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	if err := h.cacheProvider.Set(ctx, cacheKey, "processed", stripeWebhookIdempotencyTTL); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}

	w.WriteHeader(http.StatusOK)
}
