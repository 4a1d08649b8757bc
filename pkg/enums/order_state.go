package enums

// OrderState models the reconciliation state machine:
// created -> awaiting_payment -> (succeeded | failed), succeeded -> fulfilled.
type OrderState string

const (
	OrderStateCreated         OrderState = "created"
	OrderStateAwaitingPayment OrderState = "awaiting_payment"
	OrderStateSucceeded       OrderState = "succeeded"
	OrderStateFailed          OrderState = "failed"
	OrderStateFulfilled       OrderState = "fulfilled"
)

// String implements fmt.Stringer.
func (s OrderState) String() string {
	return string(s)
}

// Terminal reports whether no further transition is possible.
func (s OrderState) Terminal() bool {
	return s == OrderStateFailed || s == OrderStateFulfilled
}

// CanTransition reports whether moving from s to next is permitted.
func (s OrderState) CanTransition(next OrderState) bool {
	switch s {
	case OrderStateCreated:
		return next == OrderStateAwaitingPayment || next == OrderStateSucceeded
	case OrderStateAwaitingPayment:
		return next == OrderStateSucceeded || next == OrderStateFailed
	case OrderStateSucceeded:
		return next == OrderStateFulfilled
	default:
		return false
	}
}

// StateForPayment maps a processor status onto the order state machine.
func StateForPayment(status PaymentStatus) OrderState {
	switch status {
	case PaymentStatusSucceeded:
		return OrderStateSucceeded
	case PaymentStatusFailed:
		return OrderStateFailed
	default:
		return OrderStateAwaitingPayment
	}
}
