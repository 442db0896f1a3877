package stripe

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const (
	maxWebhookBytes = 1 << 16
	// webhookTolerance is how old a signed timestamp may be before the event
	// is treated as a replay.
	webhookTolerance = 5 * time.Minute
)

var ErrInvalidSignature = errors.New("invalid stripe signature")

// ReadWebhookEvent verifies the Stripe-Signature header and decodes the event.
// Only the payment_intent payload is read from events, so events sent with an
// older account API version are accepted.
func ReadWebhookEvent(r *http.Request, secret string) (*stripeapi.Event, error) {
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return &event, nil
}
