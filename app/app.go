package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/cache"
	"github.com/orderdesk/orderdesk/internal/config"
	"github.com/orderdesk/orderdesk/internal/db"
	"github.com/orderdesk/orderdesk/internal/email"
	"github.com/orderdesk/orderdesk/internal/events"
	"github.com/orderdesk/orderdesk/internal/handlers"
	"github.com/orderdesk/orderdesk/internal/invoice"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/observability"
	"github.com/orderdesk/orderdesk/internal/pricing"
	"github.com/orderdesk/orderdesk/internal/printer"
	"github.com/orderdesk/orderdesk/internal/services"
	"github.com/orderdesk/orderdesk/internal/stripe"
	"github.com/orderdesk/orderdesk/internal/tracking"
)

const stripeTimeout = 30 * time.Second

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Publisher     events.Publisher
	Handlers      *handlers.Handlers

	logFile io.Closer
	cancel  context.CancelFunc
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			logger.Warn("failed to initialize sentry", "error", err)
		}
	}

	a := &App{Config: cfg, Logger: logger, logFile: logFile}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// init builds the stores, services and handlers. Anything assigned to a
// before a failure is released by Close.
func (a *App) init() error {
	cfg, logger := a.Config, a.Logger

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	a.DB = database
	if err := db.Migrate(startupCtx, database); err != nil {
		return err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache provider: %w", err)
	}
	a.CacheProvider = cacheProvider

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	a.Publisher = publisher

	printers, err := loadPrinters(cfg)
	if err != nil {
		return err
	}
	queue, err := printer.NewQueue(printer.Config{
		Printers: printers,
		Timeout:  cfg.PrintTimeout,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize print queue: %w", err)
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
		Domain:   cfg.MailgunDomain,
		Logger:   logger.With("component", "email"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize email provider: %w", err)
	}
	if err := emailProvider.ValidateAPIKey(startupCtx); err != nil {
		logger.Warn("email provider rejected its API key; order emails will fail", "provider", cfg.EmailProvider, "error", err)
	}
	emailSender, err := services.NewProviderOrderEmailSender(emailProvider, services.Storefront{
		Name:           cfg.RestaurantName,
		CurrencySymbol: cfg.CurrencySymbol,
		BaseURL:        cfg.BaseURL,
		Location:       cfg.ReceiptLocation(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize order emails: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	hub := tracking.NewHub(logger.With("component", "tracking"))
	go hub.Run(runCtx)
	go queue.Run(runCtx, cfg.PrintQueueInterval)

	orderStore := db.NewOrderStore(database)
	userStore := db.NewUserStore(database)

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	authService := services.NewAuthService(userStore, tokens, logger.With("component", "auth_service"))
	if cfg.AdminEmail != "" {
		if err := authService.BootstrapAdmin(startupCtx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to bootstrap admin: %w", err)
		}
	}

	discountService := services.NewDiscountService(
		db.NewCouponStore(database),
		db.NewPromotionStore(database),
		cacheProvider,
		logger.With("component", "discount_service"),
	)
	paymentLogger := logger.With("component", "payment_service")
	// Without Stripe card payments report ErrPaymentUnavailable.
	paymentService := services.NewPaymentService(orderStore, nil, cfg.Currency, publisher, hub, paymentLogger)
	if cfg.StripeEnabled() {
		paymentService = services.NewPaymentService(
			orderStore,
			stripe.NewPaymentClient(cfg.StripeSecretKey, observability.NewHTTPClient(stripeTimeout)),
			cfg.Currency,
			publisher,
			hub,
			paymentLogger,
		)
	}
	printService := services.NewPrintService(queue, orderStore, invoice.Letterhead{
		Name:           cfg.RestaurantName,
		Address:        cfg.RestaurantAddress,
		Phone:          cfg.RestaurantPhone,
		Footer:         cfg.ReceiptFooter,
		CurrencySymbol: cfg.CurrencySymbol,
		Location:       cfg.ReceiptLocation(),
	}, logger.With("component", "print_service"))
	orderService := services.NewOrderService(
		orderStore,
		userStore,
		discountService,
		paymentService,
		printService,
		emailSender,
		publisher,
		pricing.DeliveryFee{FeeCents: cfg.DeliveryFeeCents, FreeAboveCents: cfg.FreeDeliveryMinCents},
		cfg.AutoPrint,
		logger.With("component", "order_service"),
	)
	deliveryService := services.NewDeliveryService(
		orderStore,
		userStore,
		publisher,
		hub,
		emailSender,
		logger.With("component", "delivery_service"),
	)
	stripeRouter := handlers.NewStripeEventRouter(paymentService, logger.With("component", "stripe_router"))

	h, err := handlers.New(handlers.Dependencies{
		Config:          cfg,
		DB:              database,
		CacheProvider:   cacheProvider,
		AuthService:     authService,
		OrderService:    orderService,
		DeliveryService: deliveryService,
		PaymentService:  paymentService,
		DiscountService: discountService,
		PrintService:    printService,
		Tracker:         hub,
		StripeRouter:    stripeRouter,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	a.Handlers = h

	logger.Info("app initialized",
		"printers", len(printers),
		"stripe", cfg.StripeEnabled(),
		"kafka", len(cfg.KafkaBrokers) > 0,
		"cache", cfg.CacheProvider,
		"email", cfg.EmailProvider,
	)
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("failed to close event publisher", "error", err)
		}
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}, nil
	}
	publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.OrderEventsTopic, logger.With("component", "order_events"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kafka publisher: %w", err)
	}
	return publisher, nil
}

func loadPrinters(cfg *config.Config) ([]printer.Printer, error) {
	if path := strings.TrimSpace(cfg.PrintersFile); path != "" {
		return printer.LoadFile(path)
	}
	return printer.FromAddrs(cfg.KitchenPrinterAddr, cfg.BillPrinterAddr)
}

// newLogger writes to stdout and, when LOG_FILE is set, also appends JSON
// records to that file.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		console = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	default:
		console = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if strings.TrimSpace(cfg.LogFile) == "" {
		return slog.New(console), nil, nil
	}
	file, closer, err := logging.FileHandler(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(logging.MultiHandler(console, file)), closer, nil
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
