package payments

import (
	"fmt"
	"net/http"

	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
)

// GatewayError is a failed processor call. The raw processor payload is kept for logs only.
type GatewayError struct {
	Provider   string
	Op         string
	StatusCode int
	Payload    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// RawPayload exposes the processor response body to pkgerrors.Dump.
func (e *GatewayError) RawPayload() string { return e.Payload }

// Rejected reports whether the processor refused the request itself (4xx) rather than failing.
func (e *GatewayError) Rejected() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

// WrapGatewayError turns a processor failure into an application error:
// 4xx responses become GATEWAY_REJECTED, everything else GATEWAY_ERROR.
func WrapGatewayError(gerr *GatewayError) error {
	if gerr == nil {
		return nil
	}
	code := pkgerrors.CodeGateway
	if gerr.Rejected() {
		code = pkgerrors.CodeGatewayRejected
	}
	return pkgerrors.Wrap(code, gerr, fmt.Sprintf("%s %s failed", gerr.Provider, gerr.Op))
}

// PaymentNotCompleted is returned when the processor has not confirmed the payment.
func PaymentNotCompleted(status *Status) error {
	details := map[string]any{}
	if status != nil {
		details["status"] = status.Status
		if status.ProcessorStatus != "" {
			details["processorStatus"] = status.ProcessorStatus
		}
	}
	return pkgerrors.New(pkgerrors.CodePaymentPending, "payment not completed").WithDetails(details)
}

// IntegrityError is returned when a processor record cannot be turned back into an order.
func IntegrityError(reference string, cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeIntegrity, cause, "order data incomplete for "+reference)
}
