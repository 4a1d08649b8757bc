package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/tishcommerce-checkout/internal/fulfillment"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

type reconciler interface {
	Reconcile(ctx context.Context, trigger enums.Trigger, method enums.PaymentMethod, reference string) (*fulfillment.Result, error)
}

type Service struct {
	reconciler reconciler
	logg       *logger.Logger
}

func NewService(r reconciler, logg *logger.Logger) (*Service, error) {
	if r == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{reconciler: r, logg: logg}, nil
}

// HandleEvent routes PaymentIntent events to the reconciler. The event body is only used to find the
// PaymentIntent id; the reconciler re-reads the intent from Stripe before acting.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		if intent.ID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
		}

		ctx = s.logg.WithFields(s.logg.WithPaymentReference(ctx, intent.ID), map[string]any{
			"stripe_event_id":   event.ID,
			"stripe_event_type": string(event.Type),
		})
		res, err := s.reconciler.Reconcile(ctx, enums.TriggerWebhook, enums.PaymentMethodStripe, intent.ID)
		if pkgerrors.IsCode(err, pkgerrors.CodePaymentPending) {
			// failure and cancellation events land here; nothing to fulfill
			s.logg.Info(ctx, "payment intent not paid; no fulfillment")
			return nil
		}
		if err != nil {
			return err
		}
		s.logg.Info(s.logg.WithField(ctx, "outcome", string(res.Outcome)), fmt.Sprintf("payment intent %s reconciled", intent.ID))
		return nil
	default:
		return nil
	}
}
