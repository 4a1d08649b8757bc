package paypal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/internal/payments"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/metrics"
	pkgpaypal "github.com/angelmondragon/tishcommerce-checkout/pkg/paypal"
)

const (
	provider = "paypal"

	// ShippingSKU marks shipping lines added as items by older clients; it is never a product.
	ShippingSKU = "SHIPPING"

	maxItemName = 127
)

// OrdersClient is the subset of the PayPal orders API the gateway uses.
type OrdersClient interface {
	CreateOrder(ctx context.Context, req pkgpaypal.CreateOrderRequest, requestID string) (*pkgpaypal.Order, error)
	CaptureOrder(ctx context.Context, orderID, requestID string) (*pkgpaypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (*pkgpaypal.Order, error)
}

// Gateway implements payments.Gateway on PayPal checkout orders.
// Capture is the synchronous proof of payment; PayPal keeps no fulfillment marker.
type Gateway struct {
	client  OrdersClient
	metrics *metrics.CheckoutMetrics
	now     func() time.Time
}

var _ payments.Gateway = (*Gateway)(nil)

func NewGateway(client OrdersClient, m *metrics.CheckoutMetrics) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("paypal orders client required")
	}
	return &Gateway{client: client, metrics: m, now: time.Now}, nil
}

func (g *Gateway) Method() enums.PaymentMethod { return enums.PaymentMethodPayPal }

func (g *Gateway) CreatePendingPayment(ctx context.Context, order *orders.Order) (*payments.PendingPayment, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if !order.Total().IsPositive() {
		return nil, pkgerrors.Reject("invalid_field", "order total must be positive")
	}

	created, err := g.client.CreateOrder(ctx, buildCreateRequest(order, g.now()), "")
	g.metrics.IncGateway(provider, "create", err == nil)
	if err != nil {
		return nil, wrapPayPalError("create", err)
	}
	return &payments.PendingPayment{
		Reference:       created.ID,
		ClientAuthToken: created.ID,
		ApproveURL:      created.ApproveURL(),
	}, nil
}

// ConfirmPayment captures the approved order. A capture replayed after success falls back to a read.
func (g *Gateway) ConfirmPayment(ctx context.Context, reference string) (*payments.Status, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.Reject("missing_field", "paypal order id required")
	}
	captured, err := g.client.CaptureOrder(ctx, reference, "capture-"+reference)
	g.metrics.IncGateway(provider, "capture", err == nil)
	if err != nil {
		var apiErr *pkgpaypal.APIError
		if errors.As(err, &apiErr) && apiErr.HasIssue(pkgpaypal.IssueOrderAlreadyCaptured) {
			return g.RetrieveStatus(ctx, reference)
		}
		return nil, wrapPayPalError("capture", err)
	}
	return statusFromOrder(reference, captured, g.now()), nil
}

func (g *Gateway) RetrieveStatus(ctx context.Context, reference string) (*payments.Status, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.Reject("missing_field", "paypal order id required")
	}
	current, err := g.client.GetOrder(ctx, reference)
	g.metrics.IncGateway(provider, "retrieve", err == nil)
	if err != nil {
		return nil, wrapPayPalError("retrieve", err)
	}
	return statusFromOrder(reference, current, g.now()), nil
}

func buildCreateRequest(order *orders.Order, now time.Time) pkgpaypal.CreateOrderRequest {
	currency := strings.ToUpper(order.Currency)
	money := func(v decimal.Decimal) pkgpaypal.Money {
		return pkgpaypal.Money{CurrencyCode: currency, Value: orders.FormatAmount(v, currency)}
	}

	items := make([]pkgpaypal.Item, 0, len(order.Lines))
	for _, l := range order.Lines {
		items = append(items, pkgpaypal.Item{
			Name:       truncate(l.Title, maxItemName),
			SKU:        l.ProductID,
			Quantity:   strconv.Itoa(l.Quantity),
			UnitAmount: money(l.UnitPrice),
		})
	}

	itemTotal := money(order.Subtotal())
	breakdown := &pkgpaypal.Breakdown{ItemTotal: &itemTotal}
	if order.Shipping != nil && order.Shipping.Price.IsPositive() {
		shipping := money(order.Shipping.Price)
		breakdown.Shipping = &shipping
	}

	total := money(order.Total())
	return pkgpaypal.CreateOrderRequest{
		Intent: pkgpaypal.IntentCapture,
		PurchaseUnits: []pkgpaypal.PurchaseUnit{{
			CustomID:    order.ID,
			InvoiceID:   fmt.Sprintf("%s-%d", order.ID, now.UnixMilli()),
			Description: "Order " + order.ID,
			Amount: &pkgpaypal.Amount{
				CurrencyCode: currency,
				Value:        total.Value,
				Breakdown:    breakdown,
			},
			Items: items,
		}},
	}
}

func statusFromOrder(reference string, o *pkgpaypal.Order, now time.Time) *payments.Status {
	status := &payments.Status{
		Reference:       reference,
		Method:          enums.PaymentMethodPayPal,
		Status:          mapOrderStatus(o),
		ProcessorStatus: o.Status,
	}
	order, err := orderFromPayPal(reference, o, now)
	if err != nil {
		status.Integrity = err
		return status
	}
	status.Order = order
	return status
}

func mapOrderStatus(o *pkgpaypal.Order) enums.PaymentStatus {
	switch o.Status {
	case pkgpaypal.StatusCompleted:
		for _, pu := range o.PurchaseUnits {
			if pu.Payments == nil {
				continue
			}
			for _, c := range pu.Payments.Captures {
				switch c.Status {
				case "DECLINED", "FAILED":
					return enums.PaymentStatusFailed
				case "PENDING":
					return enums.PaymentStatusAwaiting
				}
			}
		}
		return enums.PaymentStatusSucceeded
	case pkgpaypal.StatusVoided:
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusAwaiting
	}
}

// orderFromPayPal rebuilds the order from the PayPal representation: payer for the contact,
// first purchase unit for lines and totals.
func orderFromPayPal(reference string, o *pkgpaypal.Order, now time.Time) (*orders.Order, error) {
	if len(o.PurchaseUnits) == 0 {
		return nil, errors.New("paypal order has no purchase units")
	}
	if o.Payer == nil || strings.TrimSpace(o.Payer.EmailAddress) == "" {
		return nil, errors.New("paypal order has no payer email")
	}
	pu := o.PurchaseUnits[0]

	order := &orders.Order{
		ID:               pu.CustomID,
		Date:             o.CreateTime,
		PaymentMethod:    enums.PaymentMethodPayPal,
		PaymentReference: reference,
		Billing: orders.BillingContact{
			FirstName: o.Payer.Name.GivenName,
			LastName:  o.Payer.Name.Surname,
			Email:     o.Payer.EmailAddress,
		},
	}
	if order.ID == "" {
		order.ID = o.ID
	}
	if order.Date == "" {
		order.Date = now.UTC().Format(time.RFC3339)
	}
	if pu.Amount != nil {
		order.Currency = strings.ToUpper(pu.Amount.CurrencyCode)
		if pu.Amount.Breakdown != nil && pu.Amount.Breakdown.Shipping != nil {
			if price, err := decimal.NewFromString(pu.Amount.Breakdown.Shipping.Value); err == nil && price.IsPositive() {
				order.Shipping = &orders.ShippingLine{ID: "shipping", Name: "Shipping", Price: price}
			}
		}
	}

	for _, item := range pu.Items {
		id := item.SKU
		if id == "" {
			id = item.Name
		}
		if id == ShippingSKU {
			continue
		}
		qty, err := strconv.Atoi(item.Quantity)
		if err != nil || qty < 1 {
			return nil, fmt.Errorf("paypal item %s has invalid quantity %q", id, item.Quantity)
		}
		price, err := decimal.NewFromString(item.UnitAmount.Value)
		if err != nil {
			return nil, fmt.Errorf("paypal item %s has invalid price: %w", id, err)
		}
		if order.Currency == "" {
			order.Currency = strings.ToUpper(item.UnitAmount.CurrencyCode)
		}
		order.Lines = append(order.Lines, orders.Line{ProductID: id, Title: item.Name, UnitPrice: price, Quantity: qty})
	}
	if len(order.Lines) == 0 {
		return nil, errors.New("paypal order has no product items")
	}
	return order, nil
}

func wrapPayPalError(op string, err error) error {
	gerr := &payments.GatewayError{Provider: provider, Op: op, Err: err}
	var apiErr *pkgpaypal.APIError
	if errors.As(err, &apiErr) {
		gerr.StatusCode = apiErr.StatusCode
		gerr.Payload = apiErr.RawPayload()
	}
	return payments.WrapGatewayError(gerr)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
