package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/tishcommerce-checkout/internal/catalog"
	"github.com/angelmondragon/tishcommerce-checkout/internal/downloads"
	"github.com/angelmondragon/tishcommerce-checkout/internal/fulfillment"
	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/internal/payments"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

type orderValidator interface {
	Validate(draft *orders.Draft) (*orders.Order, error)
}

type gatewaySource interface {
	Get(method enums.PaymentMethod) (payments.Gateway, bool)
}

type directPlacer interface {
	PlaceDirect(ctx context.Context, order *orders.Order) (*fulfillment.Result, error)
}

type settingsSource interface {
	Settings() catalog.Settings
}

// Service executes checkout orchestration.
type Service interface {
	// ValidateAndCreatePayment validates a gateway-paid draft and opens the pending payment.
	ValidateAndCreatePayment(ctx context.Context, draft *orders.Draft) (*PaymentResult, error)
	// PlaceOrder validates and fulfills a cash-on-delivery draft in one call.
	PlaceOrder(ctx context.Context, draft *orders.Draft) (*PlaceOrderResult, error)
	Settings() SettingsView
}

// PaymentResult is returned to the client so it can complete payment with the processor.
type PaymentResult struct {
	OrderID          string              `json:"orderId"`
	PaymentMethod    enums.PaymentMethod `json:"paymentMethodId"`
	PaymentReference string              `json:"paymentReference"`
	ClientAuthToken  string              `json:"clientAuthToken"`
	ApproveURL       string              `json:"approveUrl,omitempty"`
	Amount           string              `json:"amount"`
	AmountMinor      int64               `json:"amountMinor"`
	Currency         string              `json:"currency"`
}

type PlaceOrderResult struct {
	OrderConfirmed   bool             `json:"orderConfirmed"`
	OrderID          string           `json:"orderId"`
	PaymentReference string           `json:"paymentReference"`
	Total            string           `json:"total"`
	Currency         string           `json:"currency"`
	EmailsSent       bool             `json:"emailsSent"`
	Downloads        []downloads.Link `json:"downloads"`
}

// SettingsView lists what the storefront may offer at checkout.
type SettingsView struct {
	Currency         string                         `json:"currency"`
	ShippingRequired bool                           `json:"shippingRequired"`
	PaymentMethods   []catalog.PaymentMethodSetting `json:"paymentMethods"`
	ShippingMethods  []catalog.ShippingMethod       `json:"shippingMethods"`
}

type service struct {
	validator orderValidator
	gateways  gatewaySource
	placer    directPlacer
	settings  settingsSource
	logg      *logger.Logger
}

// NewService wires checkout dependencies.
func NewService(validator orderValidator, gateways gatewaySource, placer directPlacer, settings settingsSource, logg *logger.Logger) (Service, error) {
	if validator == nil {
		return nil, fmt.Errorf("order validator required")
	}
	if gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if placer == nil {
		return nil, fmt.Errorf("direct placer required")
	}
	if settings == nil {
		return nil, fmt.Errorf("checkout settings required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{validator: validator, gateways: gateways, placer: placer, settings: settings, logg: logg}, nil
}

func (s *service) ValidateAndCreatePayment(ctx context.Context, draft *orders.Draft) (*PaymentResult, error) {
	order, err := s.validator.Validate(draft)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID)

	if !order.PaymentMethod.RequiresGateway() {
		return nil, pkgerrors.Reject(ReasonInvalidPaymentMethod, "cash on delivery orders are placed with place-order")
	}
	gw, ok := s.gateways.Get(order.PaymentMethod)
	if !ok {
		return nil, pkgerrors.Reject(ReasonInvalidPaymentMethod, fmt.Sprintf("payment method %q is not available", order.PaymentMethod))
	}

	total := order.Total()
	amountMinor, err := orders.MinorUnits(total, order.Currency)
	if err != nil {
		return nil, pkgerrors.Reject(ReasonInvalidField, "order total exceeds the payment limit").
			WithDetails(map[string]any{"total": orders.FormatAmount(total, order.Currency)})
	}

	pending, err := gw.CreatePendingPayment(ctx, order)
	if err != nil {
		dump := pkgerrors.Dump(err)
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"payment_method":  order.PaymentMethod.String(),
			"gateway_payload": dump.UpstreamPayload,
		}), "create pending payment failed", err)
		return nil, err
	}
	if err := order.Advance(enums.OrderStateAwaitingPayment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance order")
	}

	ctx = s.logg.WithPaymentReference(ctx, pending.Reference)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payment_method": order.PaymentMethod.String(),
		"amount":         orders.FormatAmount(total, order.Currency),
		"currency":       order.Currency,
	}), "pending payment created")

	return &PaymentResult{
		OrderID:          order.ID,
		PaymentMethod:    order.PaymentMethod,
		PaymentReference: pending.Reference,
		ClientAuthToken:  pending.ClientAuthToken,
		ApproveURL:       pending.ApproveURL,
		Amount:           orders.FormatAmount(total, order.Currency),
		AmountMinor:      amountMinor,
		Currency:         order.Currency,
	}, nil
}

func (s *service) PlaceOrder(ctx context.Context, draft *orders.Draft) (*PlaceOrderResult, error) {
	order, err := s.validator.Validate(draft)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != enums.PaymentMethodCOD {
		return nil, pkgerrors.Reject(ReasonInvalidPaymentMethod, "only cash on delivery orders can be placed directly")
	}

	res, err := s.placer.PlaceDirect(ctx, order)
	if err != nil {
		return nil, err
	}
	return &PlaceOrderResult{
		OrderConfirmed:   res.Paid(),
		OrderID:          order.ID,
		PaymentReference: res.Reference,
		Total:            orders.FormatAmount(order.Total(), order.Currency),
		Currency:         order.Currency,
		EmailsSent:       res.EmailsSent,
		Downloads:        res.Downloads,
	}, nil
}

// Settings hides payment methods that are enabled in configuration but have no wired gateway.
func (s *service) Settings() SettingsView {
	cfg := s.settings.Settings()
	view := SettingsView{
		Currency:         strings.ToUpper(cfg.Currency),
		ShippingRequired: cfg.ShippingRequired,
		PaymentMethods:   []catalog.PaymentMethodSetting{},
		ShippingMethods:  cfg.ActiveShippingMethods(),
	}
	for _, m := range cfg.EnabledPaymentMethods() {
		method, err := enums.ParsePaymentMethod(m.ID)
		if err != nil {
			continue
		}
		if method.RequiresGateway() {
			if _, ok := s.gateways.Get(method); !ok {
				continue
			}
		}
		view.PaymentMethods = append(view.PaymentMethods, m)
	}
	return view
}
