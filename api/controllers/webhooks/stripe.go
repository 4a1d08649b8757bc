package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/tishcommerce-checkout/api/responses"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

const maxWebhookBodyBytes = 1 << 16

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies the Stripe-Signature header and hands payment events
// to the reconciler. Only an unreadable body or a bad signature yields 400; a
// verified event is always acknowledged with 200 so Stripe does not retry
// application failures, which the verify poll recovers instead.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body").WithReason("invalid_field"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			rejectSignature(ctx, logg, w, nil, "stripe signature missing")
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			rejectSignature(ctx, logg, w, err, "stripe signature verification failed")
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"stripe_event_id":   event.ID,
				"stripe_event_type": string(event.Type),
			})
		}

		if guard != nil {
			alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
			switch {
			case err != nil:
				// The reconciler is idempotent on its own; the event guard only saves work.
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "stripe.webhook.guard_unavailable")
				}
			case alreadyProcessed:
				if logg != nil {
					logg.Info(ctx, "stripe.webhook.duplicate")
				}
				responses.WriteSuccess(w, map[string]bool{"received": true})
				return
			}
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if guard != nil {
				_ = guard.Delete(context.WithoutCancel(ctx), event.ID)
			}
			if logg != nil {
				logg.Error(logg.WithField(ctx, "error_dump", pkgerrors.Dump(err)), "stripe.webhook.handle_failed", err)
			}
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		}

		if logg != nil {
			logg.Info(ctx, "stripe.webhook.processed")
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

func rejectSignature(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, cause error, msg string) {
	if logg != nil {
		ctx = logg.WithField(ctx, "security_event", true)
		if cause != nil {
			ctx = logg.WithField(ctx, "cause", cause.Error())
		}
		logg.Warn(ctx, "stripe.webhook.signature_rejected")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeSignature, cause, msg))
}
