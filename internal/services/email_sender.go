package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/orderdesk/orderdesk/internal/email"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/observability"
)

type OrderEmailSender interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order) error
	SendStatusUpdate(ctx context.Context, order *models.Order) error
}

type ProviderOrderEmailSender struct {
	provider   email.Provider
	renderer   *email.Renderer
	storefront Storefront
}

func NewProviderOrderEmailSender(provider email.Provider, storefront Storefront) (*ProviderOrderEmailSender, error) {
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, err
	}
	return &ProviderOrderEmailSender{provider: provider, renderer: renderer, storefront: storefront}, nil
}

func (s *ProviderOrderEmailSender) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	return email.SendOrderConfirmation(ctx, s.provider, s.renderer, BuildOrderInfo(s.storefront, order))
}

func (s *ProviderOrderEmailSender) SendStatusUpdate(ctx context.Context, order *models.Order) error {
	return email.SendStatusUpdate(ctx, s.provider, s.renderer, BuildOrderInfo(s.storefront, order))
}

type noopOrderEmailSender struct{}

func (noopOrderEmailSender) SendOrderConfirmation(context.Context, *models.Order) error { return nil }
func (noopOrderEmailSender) SendStatusUpdate(context.Context, *models.Order) error      { return nil }

const emailTimeout = 15 * time.Second

// sendEmailAsync sends in the background with its own deadline. Failures are
// logged and counted but never reach the caller.
func sendEmailAsync(ctx context.Context, logger *slog.Logger, kind string, order *models.Order, send func(context.Context, *models.Order) error) {
	if order == nil || order.CustomerEmail == "" {
		return
	}
	snapshot := *order
	bg := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(bg, emailTimeout)
		defer cancel()
		if err := send(sendCtx, &snapshot); err != nil {
			logging.FromContext(bg, logger).Error("failed to send order email",
				"error", err, "kind", kind, "order_id", snapshot.ID, "order_number", snapshot.OrderNumber)
			observability.MeterFromContext(bg).Count(observability.MetricEmailFailed, 1, sentry.WithAttributes(
				attribute.String("kind", kind),
			))
		}
	}()
}
