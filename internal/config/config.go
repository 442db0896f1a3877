package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	BaseURL     string `env:"BASE_URL" validate:"omitempty,url"`

	JWTSecret     string        `env:"JWT_SECRET,required" validate:"required,min=32"`
	JWTTTL        time.Duration `env:"JWT_TTL" envDefault:"24h" validate:"gt=0"`
	AdminEmail    string        `env:"ADMIN_EMAIL" validate:"omitempty,email"`
	AdminPassword string        `env:"ADMIN_PASSWORD"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" validate:"required_with=StripeSecretKey"`
	Currency            string `env:"CURRENCY" envDefault:"gbp" validate:"len=3"`
	CurrencySymbol      string `env:"CURRENCY_SYMBOL" envDefault:"£"`

	DeliveryFeeCents     int `env:"DELIVERY_FEE_CENTS" envDefault:"0" validate:"gte=0"`
	FreeDeliveryMinCents int `env:"FREE_DELIVERY_MIN_CENTS" envDefault:"0" validate:"gte=0"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"log" validate:"oneof=log resend mailgun"`
	EmailAPIKey   string `env:"EMAIL_API_KEY" validate:"required_unless=EmailProvider log"`
	EmailFrom     string `env:"EMAIL_FROM" envDefault:"orders@localhost"`
	MailgunDomain string `env:"MAILGUN_DOMAIN" validate:"required_if=EmailProvider mailgun"`

	PrintersFile       string        `env:"PRINTERS_FILE"`
	KitchenPrinterAddr string        `env:"KITCHEN_PRINTER_ADDR" validate:"omitempty,hostname_port"`
	BillPrinterAddr    string        `env:"BILL_PRINTER_ADDR" validate:"omitempty,hostname_port"`
	PrintTimeout       time.Duration `env:"PRINT_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	PrintQueueInterval time.Duration `env:"PRINT_QUEUE_INTERVAL" envDefault:"0s" validate:"gte=0"`
	AutoPrint          bool          `env:"AUTO_PRINT" envDefault:"true"`

	RestaurantName    string `env:"RESTAURANT_NAME" envDefault:"Dabba Kitchen"`
	RestaurantAddress string `env:"RESTAURANT_ADDRESS"`
	RestaurantPhone   string `env:"RESTAURANT_PHONE"`
	ReceiptFooter     string `env:"RECEIPT_FOOTER" envDefault:"Thank you for your order!"`
	ReceiptTimezone   string `env:"RECEIPT_TIMEZONE" envDefault:"UTC"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	OrderEventsTopic string   `env:"ORDER_EVENTS_TOPIC" envDefault:"orders.events"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"development"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	LogFile   string     `env:"LOG_FILE"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

// Load reads the optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	hasAdminEmail := strings.TrimSpace(c.AdminEmail) != ""
	hasAdminPassword := c.AdminPassword != ""
	if hasAdminEmail != hasAdminPassword {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	if hasAdminPassword && len(c.AdminPassword) < 8 {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters")
	}

	if _, err := time.LoadLocation(c.ReceiptTimezone); err != nil {
		return fmt.Errorf("RECEIPT_TIMEZONE is invalid: %w", err)
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("BASE_URL must be a valid absolute URL")
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("BASE_URL must use https outside local development")
		}
	}

	return nil
}

// ReceiptLocation returns the time zone receipts are printed in.
func (c *Config) ReceiptLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReceiptTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) StripeEnabled() bool {
	return strings.TrimSpace(c.StripeSecretKey) != ""
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
