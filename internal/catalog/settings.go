package catalog

import (
	"strings"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/types"
)

// Settings mirrors checkout.json.
type Settings struct {
	Currency         string                 `json:"currency"`
	ShippingRequired bool                   `json:"shippingRequired"`
	PaymentMethods   []PaymentMethodSetting `json:"paymentMethods"`
	ShippingMethods  []ShippingMethod       `json:"shippingMethods"`
}

type PaymentMethodSetting struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Icon    string `json:"icon,omitempty"`
}

type ShippingMethod struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Price   types.Amount `json:"price"`
	Enabled *bool        `json:"enabled,omitempty"`
}

// Active treats a missing enabled flag as enabled.
func (m ShippingMethod) Active() bool {
	return m.Enabled == nil || *m.Enabled
}

func defaultSettings() Settings {
	return Settings{
		Currency: "USD",
		PaymentMethods: []PaymentMethodSetting{
			{ID: string(enums.PaymentMethodStripe), Name: "Stripe", Enabled: true, Icon: "/payments/stripe.png"},
			{ID: string(enums.PaymentMethodPayPal), Name: "PayPal", Enabled: true, Icon: "/payments/paypal.png"},
		},
	}
}

func (s Settings) normalized() Settings {
	out := s
	out.Currency = strings.ToUpper(strings.TrimSpace(out.Currency))
	if out.Currency == "" {
		out.Currency = "USD"
	}
	out.PaymentMethods = append([]PaymentMethodSetting(nil), s.PaymentMethods...)
	out.ShippingMethods = append([]ShippingMethod(nil), s.ShippingMethods...)
	return out
}

// EnabledPaymentMethods returns only those methods buyers may select.
func (s Settings) EnabledPaymentMethods() []PaymentMethodSetting {
	out := make([]PaymentMethodSetting, 0, len(s.PaymentMethods))
	for _, m := range s.PaymentMethods {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// ActiveShippingMethods returns only selectable shipping methods.
func (s Settings) ActiveShippingMethods() []ShippingMethod {
	out := make([]ShippingMethod, 0, len(s.ShippingMethods))
	for _, m := range s.ShippingMethods {
		if m.Active() {
			out = append(out, m)
		}
	}
	return out
}
