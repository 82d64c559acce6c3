package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"storefront-payments/internal/cache"
	"storefront-payments/internal/client"
	"storefront-payments/internal/config"
	"storefront-payments/internal/handler"
	"storefront-payments/internal/lock"
	"storefront-payments/internal/logger"
	"storefront-payments/internal/model"
	"storefront-payments/internal/notify"
	"storefront-payments/internal/repository"
	"storefront-payments/internal/server"
	"storefront-payments/internal/service"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	app := &cli.App{
		Name:   "storefront-payments",
		Usage:  "checkout, payment confirmation and order reconciliation",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, webhook workers and reconciliation loop",
				Action: serve,
			},
			{
				Name:   "reconcile",
				Usage:  "run one reconciliation sweep and exit",
				Action: reconcileOnce,
			},
			{
				Name:  "migrate",
				Usage: "create or update database tables",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "seed", Usage: "insert the demo product catalog"},
				},
				Action: migrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps holds every wired dependency of the running process.
type deps struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *gorm.DB
	redis     *redis.Client
	publisher publisher
	effects   *service.Effects

	webhooks   *service.WebhookProcessor
	reconciler *service.Reconciler
	handlers   server.Handlers
}

type publisher interface {
	service.Notifier
	service.InvoiceGenerator
	Close() error
}

func setup(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := client.InitDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := client.Migrate(db); err != nil {
		return nil, err
	}

	redisClient, err := client.InitRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	var pub publisher = notify.NewLogPublisher(log)
	if len(cfg.Kafka.Brokers) > 0 {
		pub = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient, log)
	}

	gateways, err := buildGateways(cfg, log)
	if err != nil {
		return nil, err
	}

	productRepo := repository.NewProductRepository(db)
	cartRepo := repository.NewCartRepository(db)
	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	sessionRepo := repository.NewPaymentSessionRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	defaults := model.ShippingSettings{
		FreeThreshold: 0,
		StandardRate:  cfg.Payment.DefaultShippingRate,
	}
	var settings service.SettingsProvider = service.NewSettingsStore(settingRepo, defaults)
	if redisClient != nil {
		settings = cache.NewSettingsCache(redisClient, settings, cfg.Redis.SettingsTTL, log)
	}

	clock := service.Clock(time.Now)
	cartService := service.NewCartService(cartRepo, productRepo, cfg.Payment.Currency)
	discounts := service.NewDiscountEngine(userRepo, log)
	shipping := service.NewShippingCalculator(settings, defaults, log)
	pricer := service.NewPricer(cartService, userRepo, discounts, shipping, clock)
	effects := service.NewEffects(pub, pub, log)
	orderService := service.NewOrderService(db, orderRepo, cartRepo, sessionRepo, cartService, pricer, discounts, effects, clock, log)
	paymentService := service.NewPaymentService(gateways, pricer, orderRepo, sessionRepo, log)
	confirmation := service.NewConfirmationService(gateways, orderService, orderRepo, sessionRepo, locker, log)
	settingsService := service.NewSettingsService(db, settingRepo, settings, log)

	webhooks := service.NewWebhookProcessor(gateways, confirmation, webhookEventRepo, cfg.Webhook.Workers, cfg.Webhook.QueueSize, log)
	reconciler := service.NewReconciler(gateways, confirmation, orderRepo, sessionRepo, cfg.Reconcile, clock, log)

	return &deps{
		cfg:        cfg,
		logger:     log,
		db:         db,
		redis:      redisClient,
		publisher:  pub,
		effects:    effects,
		webhooks:   webhooks,
		reconciler: reconciler,
		handlers: server.Handlers{
			Checkout: handler.NewCheckoutHandler(paymentService, confirmation, cfg.BaseURL),
			Webhook:  handler.NewWebhookHandler(webhooks),
			Cart:     handler.NewCartHandler(cartService),
			Order:    handler.NewOrderHandler(orderService),
			Admin:    handler.NewAdminHandler(settingsService),
		},
	}, nil
}

func buildGateways(cfg *config.Config, log *zap.Logger) (*client.Gateways, error) {
	var gateways []client.PaymentGateway

	if cfg.Stripe.SecretKey != "" {
		stripeGateway, err := client.NewStripeGateway(cfg.Stripe, log)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, client.WithCircuitBreaker(stripeGateway, cfg.Breaker, log))
	}
	if cfg.Paypal.Enabled() {
		paypalGateway := client.NewPaypalGateway(cfg.Paypal, log)
		gateways = append(gateways, client.WithCircuitBreaker(paypalGateway, cfg.Breaker, log))
	}

	return client.NewGateways(cfg.Payment.Provider, gateways...)
}

func (d *deps) close() {
	d.effects.Wait()
	if err := d.publisher.Close(); err != nil {
		d.logger.Error("close publisher", zap.Error(err))
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if sqlDB, err := d.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = d.logger.Sync()
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	d, err := setup(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	d.webhooks.Start()
	go d.reconciler.Run(ctx)

	srv := server.NewServer(d.cfg, d.handlers, d.logger)
	serverAddr := d.cfg.HTTP.Address()

	d.logger.Info("starting HTTP server", zap.String("address", serverAddr))
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		d.logger.Info("signal received, starting graceful shutdown")
	case err := <-errCh:
		d.logger.Error("HTTP server error", zap.Error(err))
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := d.webhooks.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("webhook workers shutdown error", zap.Error(err))
	}
	return nil
}

func reconcileOnce(c *cli.Context) error {
	d, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer d.close()

	res, err := d.reconciler.Sweep(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("checked %d orders and %d sessions, %d changed, %d abandoned, %d failures\n",
		res.OrdersChecked, res.SessionsChecked, res.Changed, res.Abandoned, res.Failures)
	return nil
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := client.InitDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if err := client.Migrate(db); err != nil {
		return err
	}
	if c.Bool("seed") {
		if err := repository.NewProductRepository(db).Seed(c.Context); err != nil {
			return fmt.Errorf("seed products: %w", err)
		}
	}
	fmt.Println("migration complete")
	return nil
}
