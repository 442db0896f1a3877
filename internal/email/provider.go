// Package email sends order confirmation and delivery update emails.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/observability"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	// Tags label the message at the provider, e.g. template and order_number.
	Tags map[string]string
	// ProviderID is set by providers that return a message id.
	ProviderID string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
	Domain   string // For Mailgun
	Logger   *slog.Logger
}

const providerTimeout = 30 * time.Second

func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "log", "":
		return NewLogProvider(config.Logger), nil
	case "mailgun":
		return NewMailgunProviderWithClient(config.APIKey, config.Domain, config.From, defaultMailgunBaseURL, observability.NewHTTPClient(providerTimeout)), nil
	case "resend":
		return NewResendProvider(config.APIKey, config.From, observability.NewHTTPClient(providerTimeout)), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be one of 'log', 'mailgun', or 'resend'")
	}
}

// LogProvider writes emails to the log instead of sending them. It is the
// development default.
type LogProvider struct {
	logger *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	return &LogProvider{logger: logging.FromContext(context.Background(), logger).With("component", "email")}
}

func (l *LogProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	logging.FromContext(ctx, l.logger).Info("email not sent (log provider)",
		"to", email.To, "subject", email.Subject, "tags", email.Tags, "text_bytes", len(email.Text), "html_bytes", len(email.HTML))
	return nil
}

func (l *LogProvider) ValidateAPIKey(context.Context) error {
	return nil
}
