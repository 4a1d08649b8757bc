package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/tishcommerce-checkout/api/controllers"
	webhookcontrollers "github.com/angelmondragon/tishcommerce-checkout/api/controllers/webhooks"
	"github.com/angelmondragon/tishcommerce-checkout/api/middleware"
	"github.com/angelmondragon/tishcommerce-checkout/api/responses"
	checkoutsvc "github.com/angelmondragon/tishcommerce-checkout/internal/checkout"
	"github.com/angelmondragon/tishcommerce-checkout/internal/fulfillment"
	"github.com/angelmondragon/tishcommerce-checkout/internal/idempotency"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/config"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/metrics"
)

type reconciler interface {
	Reconcile(ctx context.Context, trigger enums.Trigger, method enums.PaymentMethod, reference string) (*fulfillment.Result, error)
}

type downloadRedeemer interface {
	Redeem(ctx context.Context, token string) (string, error)
}

type stripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeSigner interface {
	SigningSecret() string
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Dependencies is everything the HTTP surface is wired to. StripeWebhook,
// StripeClient and WebhookGuard are nil when Stripe is disabled.
type Dependencies struct {
	Checkout      checkoutsvc.Service
	Reconciler    reconciler
	Downloads     downloadRedeemer
	StripeWebhook stripeWebhookService
	StripeClient  stripeSigner
	WebhookGuard  webhookGuard
	RequestStore  idempotency.Store
	Readiness     map[string]controllers.Pinger
	Registry      *prometheus.Registry
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	var httpMetrics *metrics.HTTPMetrics
	if deps.Registry != nil {
		httpMetrics = metrics.NewHTTPMetrics(deps.Registry)
	}

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		responses.WriteError(req.Context(), nil, w, pkgerrors.New(pkgerrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Readiness, logg))
	})

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			r.Use(middleware.Idempotency(deps.RequestStore, cfg.Idempotency.RequestKeyTTL, logg))
			r.Get("/settings", controllers.CheckoutSettings(deps.Checkout))
			r.Post("/validate-and-create-payment", controllers.ValidateAndCreatePayment(deps.Checkout, logg))
			r.Post("/place-order", controllers.PlaceOrder(deps.Checkout, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/verify", controllers.VerifyPayment(deps.Reconciler, logg))
			r.Post("/paypal/capture", controllers.CapturePayPal(deps.Reconciler, logg))
			if deps.StripeWebhook != nil && deps.StripeClient != nil {
				r.Post("/webhook", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeClient, deps.WebhookGuard, logg))
			}
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", controllers.Downloads(deps.Reconciler, logg))
			r.Get("/redeem", controllers.RedeemDownload(deps.Downloads, logg))
		})
	})

	return r
}

// Server wraps the router with the timeouts used in every environment.
func Server(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Notifications run inside the request for place-order and capture, including the admin delay.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
