package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
)

const (
	MetaOrderID        = "orderId"
	MetaOrderDate      = "orderDate"
	MetaBillingForm    = "billingForm"
	MetaPaymentMethod  = "paymentMethodId"
	MetaSiteName       = "siteName"
	MetaShippingMethod = "shippingMethod"
	MetaCartItems      = "cartItems"
	MetaEmailsSent     = "emailsSent"

	// Stripe caps metadata values at 500 characters and a record at 50 keys.
	maxValueLen  = 500
	maxCartParts = 40
)

var errMissingMetadata = errors.New("payment intent metadata incomplete")

// cartEntry is the minimized cart projection stored on the PaymentIntent.
type cartEntry struct {
	ID       string `json:"id"`
	Title    string `json:"t"`
	Price    string `json:"p"`
	Quantity int    `json:"q"`
}

// EncodeMetadata projects an order into PaymentIntent metadata.
func EncodeMetadata(order *orders.Order, siteName string) (map[string]string, error) {
	billing, err := json.Marshal(order.Billing)
	if err != nil {
		return nil, fmt.Errorf("encode billing form: %w", err)
	}
	if len(billing) > maxValueLen {
		return nil, pkgerrors.Reject("invalid_field", "billing details too long")
	}

	md := map[string]string{
		MetaOrderID:       order.ID,
		MetaOrderDate:     order.Date,
		MetaBillingForm:   string(billing),
		MetaPaymentMethod: string(order.PaymentMethod),
	}
	if siteName != "" {
		md[MetaSiteName] = truncate(siteName, maxValueLen)
	}
	if order.Shipping != nil {
		shipping, err := json.Marshal(order.Shipping)
		if err != nil {
			return nil, fmt.Errorf("encode shipping: %w", err)
		}
		if len(shipping) > maxValueLen {
			return nil, pkgerrors.Reject("invalid_field", "shipping details too long")
		}
		md[MetaShippingMethod] = string(shipping)
	}

	entries := make([]cartEntry, 0, len(order.Lines))
	for _, l := range order.Lines {
		entries = append(entries, cartEntry{
			ID:       l.ProductID,
			Title:    truncate(l.Title, 60),
			Price:    l.UnitPrice.String(),
			Quantity: l.Quantity,
		})
	}
	cart, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	parts := chunk(string(cart), maxValueLen)
	if len(parts) > maxCartParts {
		return nil, pkgerrors.Reject("cart_too_large", "cart too large to record with the payment")
	}
	for i, part := range parts {
		md[cartKey(i)] = part
	}
	return md, nil
}

// DecodeMetadata rebuilds the order recorded by EncodeMetadata.
func DecodeMetadata(md map[string]string) (*orders.Order, error) {
	var missing []string
	for _, key := range []string{MetaOrderID, MetaOrderDate, MetaBillingForm, MetaCartItems} {
		if strings.TrimSpace(md[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", errMissingMetadata, strings.Join(missing, ", "))
	}

	order := &orders.Order{
		ID:            md[MetaOrderID],
		Date:          md[MetaOrderDate],
		PaymentMethod: enums.PaymentMethodStripe,
	}
	if method, err := enums.ParsePaymentMethod(md[MetaPaymentMethod]); err == nil {
		order.PaymentMethod = method
	}
	if err := json.Unmarshal([]byte(md[MetaBillingForm]), &order.Billing); err != nil {
		return nil, fmt.Errorf("decode billing form: %w", err)
	}
	if raw := md[MetaShippingMethod]; raw != "" {
		var shipping orders.ShippingLine
		if err := json.Unmarshal([]byte(raw), &shipping); err != nil {
			return nil, fmt.Errorf("decode shipping: %w", err)
		}
		order.Shipping = &shipping
	}

	var entries []cartEntry
	if err := json.Unmarshal([]byte(joinCart(md)), &entries); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty cart", errMissingMetadata)
	}
	for _, e := range entries {
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return nil, fmt.Errorf("decode cart price for %s: %w", e.ID, err)
		}
		order.Lines = append(order.Lines, orders.Line{
			ProductID: e.ID,
			Title:     e.Title,
			UnitPrice: price,
			Quantity:  e.Quantity,
		})
	}
	return order, nil
}

func cartKey(i int) string {
	if i == 0 {
		return MetaCartItems
	}
	return MetaCartItems + "_" + strconv.Itoa(i+1)
}

func joinCart(md map[string]string) string {
	type part struct {
		idx   int
		value string
	}
	var parts []part
	for key, value := range md {
		switch {
		case key == MetaCartItems:
			parts = append(parts, part{idx: 1, value: value})
		case strings.HasPrefix(key, MetaCartItems+"_"):
			n, err := strconv.Atoi(strings.TrimPrefix(key, MetaCartItems+"_"))
			if err == nil && n > 1 {
				parts = append(parts, part{idx: n, value: value})
			}
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].idx < parts[j].idx })
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.value)
	}
	return b.String()
}

// chunk splits on rune boundaries so no part exceeds size bytes.
func chunk(s string, size int) []string {
	var parts []string
	for len(s) > size {
		cut := size
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" || len(parts) == 0 {
		parts = append(parts, s)
	}
	return parts
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
