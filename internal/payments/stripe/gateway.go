package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/internal/payments"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/metrics"
)

const provider = "stripe"

// Gateway implements payments.Gateway on PaymentIntents, using intent metadata as the order record.
type Gateway struct {
	intents  IntentClient
	siteName string
	metrics  *metrics.CheckoutMetrics
}

var (
	_ payments.Gateway = (*Gateway)(nil)
	_ payments.Marker  = (*Gateway)(nil)
)

func NewGateway(intents IntentClient, siteName string, m *metrics.CheckoutMetrics) (*Gateway, error) {
	if intents == nil {
		return nil, fmt.Errorf("stripe intent client required")
	}
	return &Gateway{intents: intents, siteName: siteName, metrics: m}, nil
}

func (g *Gateway) Method() enums.PaymentMethod { return enums.PaymentMethodStripe }

func (g *Gateway) CreatePendingPayment(ctx context.Context, order *orders.Order) (*payments.PendingPayment, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	md, err := EncodeMetadata(order, g.siteName)
	if err != nil {
		return nil, err
	}

	amount, err := orders.MinorUnits(order.Total(), order.Currency)
	if err != nil {
		return nil, pkgerrors.Reject("invalid_field", "order total exceeds the payment limit")
	}
	if amount <= 0 {
		return nil, pkgerrors.Reject("invalid_field", "order total must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(order.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("Order " + order.ID),
	}
	if order.Billing.Email != "" {
		params.ReceiptEmail = stripe.String(order.Billing.Email)
	}
	for k, v := range md {
		params.AddMetadata(k, v)
	}

	pi, err := g.intents.Create(ctx, params)
	g.metrics.IncGateway(provider, "create", err == nil)
	if err != nil {
		return nil, wrapStripeError("create", err)
	}
	return &payments.PendingPayment{
		Reference:       pi.ID,
		ClientAuthToken: pi.ClientSecret,
	}, nil
}

// ConfirmPayment only observes: card payments are confirmed client-side by the payment element.
func (g *Gateway) ConfirmPayment(ctx context.Context, reference string) (*payments.Status, error) {
	return g.RetrieveStatus(ctx, reference)
}

func (g *Gateway) RetrieveStatus(ctx context.Context, reference string) (*payments.Status, error) {
	if !strings.HasPrefix(reference, "pi_") {
		return nil, pkgerrors.Reject("invalid_field", "invalid payment intent reference")
	}
	pi, err := g.intents.Get(ctx, reference, &stripe.PaymentIntentParams{})
	g.metrics.IncGateway(provider, "retrieve", err == nil)
	if err != nil {
		return nil, wrapStripeError("retrieve", err)
	}
	return statusFromIntent(pi), nil
}

// MarkFulfilled writes the emailsSent marker; Stripe merges metadata keys so the order record is kept.
func (g *Gateway) MarkFulfilled(ctx context.Context, reference string) error {
	params := &stripe.PaymentIntentParams{}
	params.AddMetadata(MetaEmailsSent, "true")
	_, err := g.intents.Update(ctx, reference, params)
	g.metrics.IncGateway(provider, "mark_fulfilled", err == nil)
	if err != nil {
		return wrapStripeError("update metadata", err)
	}
	return nil
}

func statusFromIntent(pi *stripe.PaymentIntent) *payments.Status {
	status := &payments.Status{
		Reference:       pi.ID,
		Method:          enums.PaymentMethodStripe,
		Status:          mapIntentStatus(pi),
		ProcessorStatus: string(pi.Status),
		Fulfilled:       pi.Metadata[MetaEmailsSent] == "true",
	}
	order, err := DecodeMetadata(pi.Metadata)
	if err != nil {
		status.Integrity = err
		return status
	}
	order.PaymentReference = pi.ID
	order.Currency = strings.ToUpper(string(pi.Currency))
	status.Order = order
	return status
}

func mapIntentStatus(pi *stripe.PaymentIntent) enums.PaymentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return enums.PaymentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return enums.PaymentStatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return enums.PaymentStatusFailed
		}
		return enums.PaymentStatusAwaiting
	default:
		return enums.PaymentStatusAwaiting
	}
}

func wrapStripeError(op string, err error) error {
	gerr := &payments.GatewayError{Provider: provider, Op: op, Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		gerr.StatusCode = stripeErr.HTTPStatusCode
		gerr.Payload = stripeErr.Error()
	}
	return payments.WrapGatewayError(gerr)
}
