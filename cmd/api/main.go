package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/tishcommerce-checkout/api/controllers"
	"github.com/angelmondragon/tishcommerce-checkout/api/routes"
	"github.com/angelmondragon/tishcommerce-checkout/internal/catalog"
	"github.com/angelmondragon/tishcommerce-checkout/internal/checkout"
	"github.com/angelmondragon/tishcommerce-checkout/internal/downloads"
	"github.com/angelmondragon/tishcommerce-checkout/internal/fulfillment"
	"github.com/angelmondragon/tishcommerce-checkout/internal/idempotency"
	"github.com/angelmondragon/tishcommerce-checkout/internal/notifications"
	"github.com/angelmondragon/tishcommerce-checkout/internal/payments"
	paypalgateway "github.com/angelmondragon/tishcommerce-checkout/internal/payments/paypal"
	stripegateway "github.com/angelmondragon/tishcommerce-checkout/internal/payments/stripe"
	stripewebhook "github.com/angelmondragon/tishcommerce-checkout/internal/webhooks/stripe"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/config"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/db"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/mailer"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/metrics"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/migrate"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/paypal"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/redis"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "checkout-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "checkout-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "checkout api stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	cat, err := catalog.Load(cfg.Catalog.ProductsFile, cfg.Catalog.CheckoutFile)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "products", len(cat.Products())), "catalog loaded")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	readiness := map[string]controllers.Pinger{}
	store, closeStore, err := openStore(ctx, cfg, logg, readiness)
	if err != nil {
		return err
	}
	defer closeStore()

	gateways, stripeClient, err := buildGateways(ctx, cfg, logg, checkoutMetrics)
	if err != nil {
		return err
	}

	sender, err := mailer.New(cfg.Mail, cfg.Notifications.SiteName, logg)
	if err != nil {
		return err
	}
	dispatcher, err := notifications.NewDispatcher(sender, notifications.Settings{
		SiteName:   cfg.Notifications.SiteName,
		AdminEmail: cfg.Notifications.AdminEmail,
		Subject:    cfg.Notifications.ConfirmationSubject,
		Message:    cfg.Notifications.ConfirmationMessage,
		Delay:      cfg.Notifications.AdminDelay,
	}, logg, checkoutMetrics)
	if err != nil {
		return err
	}

	var signer *downloads.Signer
	if cfg.Downloads.Signed() {
		if signer, err = downloads.NewSigner(cfg.Downloads.SigningSecret, cfg.Downloads.LinkTTL); err != nil {
			return err
		}
	}
	resolver, err := downloads.NewResolver(cat, signer, cfg.Downloads.PublicBaseURL, logg)
	if err != nil {
		return err
	}

	claims, err := idempotency.NewClaims(store, cfg.Idempotency.ClaimTTL, cfg.Idempotency.FulfilledTTL)
	if err != nil {
		return err
	}
	reconciler, err := fulfillment.NewReconciler(gateways, claims, dispatcher, resolver, logg, checkoutMetrics)
	if err != nil {
		return err
	}

	validator, err := checkout.NewValidator(cat)
	if err != nil {
		return err
	}
	checkoutService, err := checkout.NewService(validator, gateways, reconciler, cat, logg)
	if err != nil {
		return err
	}

	deps := routes.Dependencies{
		Checkout:     checkoutService,
		Reconciler:   reconciler,
		Downloads:    resolver,
		RequestStore: store,
		Readiness:    readiness,
		Registry:     registry,
	}
	if stripeClient != nil {
		webhookService, err := stripewebhook.NewService(reconciler, logg)
		if err != nil {
			return err
		}
		guard, err := idempotency.NewGuard(store, cfg.Idempotency.WebhookTTL, "stripe_webhook")
		if err != nil {
			return err
		}
		deps.StripeWebhook = webhookService
		deps.StripeClient = stripeClient
		deps.WebhookGuard = guard
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	server := routes.Server(addr, routes.NewRouter(cfg, logg, deps))

	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":                 cfg.App.Env,
		"addr":                addr,
		"idempotency_backend": strings.ToLower(cfg.Idempotency.Backend),
		"mail_provider":       strings.ToLower(cfg.Mail.Provider),
		"signed_downloads":    cfg.Downloads.Signed(),
	})
	logg.Info(serverCtx, "starting checkout api")

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(serverCtx, "shutting down checkout api")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore selects the local idempotency backend and registers it for the readiness check.
func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger, readiness map[string]controllers.Pinger) (idempotency.Store, func(), error) {
	switch strings.ToLower(cfg.Idempotency.Backend) {
	case config.IdempotencyBackendRedis:
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, nil, err
		}
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		readiness["redis"] = client
		return store, func() {
			if err := client.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}, nil
	case config.IdempotencyBackendSQL:
		client, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.MaybeRun(ctx, cfg.DB, logg, client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store, err := idempotency.NewSQLStore(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		readiness["database"] = client
		go purgeExpired(ctx, store, logg)
		return store, func() {
			if err := client.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}, nil
	default:
		logg.Warn(ctx, "using in-memory idempotency store; claims are not shared across replicas")
		return idempotency.NewMemoryStore(), func() {}, nil
	}
}

func buildGateways(ctx context.Context, cfg *config.Config, logg *logger.Logger, m *metrics.CheckoutMetrics) (*payments.Registry, *stripe.Client, error) {
	registry, err := payments.NewRegistry()
	if err != nil {
		return nil, nil, err
	}

	var stripeClient *stripe.Client
	if cfg.Stripe.Enabled {
		stripeClient, err = stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, nil, err
		}
		gw, err := stripegateway.NewGateway(stripegateway.NewIntentClient(stripeClient), cfg.Notifications.SiteName, m)
		if err != nil {
			return nil, nil, err
		}
		if err := registry.Register(gw); err != nil {
			return nil, nil, err
		}
	}

	if cfg.PayPal.Enabled {
		client, err := paypal.NewClient(cfg.PayPal)
		if err != nil {
			return nil, nil, err
		}
		gw, err := paypalgateway.NewGateway(client, m)
		if err != nil {
			return nil, nil, err
		}
		if err := registry.Register(gw); err != nil {
			return nil, nil, err
		}
		logg.Info(logg.WithField(ctx, "paypal_base", cfg.PayPal.APIBase()), "paypal gateway enabled")
	}

	return registry, stripeClient, nil
}

const purgeInterval = time.Hour

// purgeExpired deletes expired claim and replay rows; redis and memory expire keys themselves.
func purgeExpired(ctx context.Context, store *idempotency.SQLStore, logg *logger.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx)
			if err != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "idempotency purge failed")
				continue
			}
			if n > 0 {
				logg.Info(logg.WithField(ctx, "purged", n), "idempotency rows purged")
			}
		}
	}
}
