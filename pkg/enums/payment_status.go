package enums

// PaymentStatus is the processor-agnostic view of a payment's settlement.
// Gateways map their own states onto it; StateForPayment maps it onto the order.
type PaymentStatus string

const (
	PaymentStatusAwaiting  PaymentStatus = "awaiting_payment"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (p PaymentStatus) String() string {
	return string(p)
}
