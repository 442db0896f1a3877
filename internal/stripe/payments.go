// Package stripe wraps the Stripe API calls used for card payments.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

// PaymentClient creates and reads payment intents.
type PaymentClient struct {
	client *stripe.Client
}

// NewPaymentClient talks to Stripe through httpClient when one is given, so
// outbound calls carry the request's trace headers.
func NewPaymentClient(secretKey string, httpClient *http.Client) *PaymentClient {
	if httpClient == nil {
		return &PaymentClient{client: stripe.NewClient(secretKey)}
	}
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{HTTPClient: httpClient})
	return &PaymentClient{client: stripe.NewClient(secretKey, stripe.WithBackends(backends))}
}

// Intent is the part of a payment intent the order flow cares about.
type Intent struct {
	ID           string
	ClientSecret string
	AmountCents  int64
	Currency     string
	Status       string
	OrderID      uuid.UUID
}

// Succeeded reports whether the card has been charged.
func (i *Intent) Succeeded() bool {
	return i != nil && i.Status == string(stripe.PaymentIntentStatusSucceeded)
}

type IntentParams struct {
	AmountCents   int64
	Currency      string
	OrderID       uuid.UUID
	OrderNumber   string
	CustomerEmail string
}

// CreatePaymentIntent creates a card payment intent carrying the order id in
// its metadata so webhooks can find the order again.
func (c *PaymentClient) CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if params.AmountCents <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}

	createParams := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(params.AmountCents),
		Currency: stripe.String(strings.ToLower(params.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	// Intents are usually created before the order exists; the webhook then
	// finds the order by intent id.
	if params.OrderID != uuid.Nil {
		createParams.Metadata = map[string]string{
			"order_id":     params.OrderID.String(),
			"order_number": params.OrderNumber,
		}
	}
	// Only send the receipt email if present to avoid Stripe validation errors.
	if params.CustomerEmail != "" {
		createParams.ReceiptEmail = stripe.String(params.CustomerEmail)
	}

	pi, err := c.client.V1PaymentIntents.Create(ctx, createParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return intentFrom(pi), nil
}

func (c *PaymentClient) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	pi, err := c.client.V1PaymentIntents.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return intentFrom(pi), nil
}

// IntentFromEvent decodes the payment intent carried by a payment_intent.*
// webhook event.
func IntentFromEvent(event *stripe.Event) (*Intent, error) {
	if event == nil || event.Data == nil {
		return nil, fmt.Errorf("event has no data")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent: %w", err)
	}
	return intentFrom(&pi), nil
}

func intentFrom(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
	}
	if raw, ok := pi.Metadata["order_id"]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			intent.OrderID = id
		}
	}
	return intent
}
