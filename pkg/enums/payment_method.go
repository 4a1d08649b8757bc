package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod identifies the checkout payment option selected by the buyer.
type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodCOD    PaymentMethod = "cod"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodStripe,
	PaymentMethodPayPal,
	PaymentMethodCOD,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// RequiresGateway reports whether the method settles through an external processor.
func (p PaymentMethod) RequiresGateway() bool {
	return p == PaymentMethodStripe || p == PaymentMethodPayPal
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// InferPaymentMethod guesses the processor from the shape of a payment reference.
func InferPaymentMethod(reference string) PaymentMethod {
	switch {
	case strings.HasPrefix(reference, "pi_"):
		return PaymentMethodStripe
	case strings.HasPrefix(reference, CODReferencePrefix):
		return PaymentMethodCOD
	default:
		return PaymentMethodPayPal
	}
}

// CODReferencePrefix namespaces the synthetic references of cash-on-delivery orders.
const CODReferencePrefix = "cod_"
