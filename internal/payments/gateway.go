package payments

import (
	"context"

	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
)

// PendingPayment is what a client needs to complete payment with the processor.
type PendingPayment struct {
	Reference       string `json:"paymentReference"`
	ClientAuthToken string `json:"clientAuthToken"`
	ApproveURL      string `json:"approveUrl,omitempty"`
}

// Status is the processor's current view of a payment.
type Status struct {
	Reference       string
	Method          enums.PaymentMethod
	Status          enums.PaymentStatus
	ProcessorStatus string

	// Fulfilled mirrors the processor-side fulfillment marker, when the processor keeps one.
	Fulfilled bool

	// Order is rebuilt from the processor record. It is nil when Integrity is set.
	Order     *orders.Order
	Integrity error
}

// Succeeded reports whether the processor confirmed settlement.
func (s *Status) Succeeded() bool {
	return s != nil && s.Status == enums.PaymentStatusSucceeded
}

// Gateway is implemented by every payment processor adapter.
type Gateway interface {
	Method() enums.PaymentMethod

	// CreatePendingPayment opens a payment for the validated order total.
	CreatePendingPayment(ctx context.Context, order *orders.Order) (*PendingPayment, error)

	// ConfirmPayment settles the payment where the processor needs an explicit call
	// (PayPal capture). Processors confirmed client-side only observe the status.
	ConfirmPayment(ctx context.Context, reference string) (*Status, error)

	// RetrieveStatus fetches the current state without side effects.
	RetrieveStatus(ctx context.Context, reference string) (*Status, error)
}

// Marker is implemented by gateways that can persist the fulfillment flag on the processor record.
type Marker interface {
	MarkFulfilled(ctx context.Context, reference string) error
}
