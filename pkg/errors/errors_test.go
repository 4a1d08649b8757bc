package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForCheckoutCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeSignature, status: http.StatusBadRequest},
		{code: CodeIntegrity, status: http.StatusBadRequest},
		{code: CodePaymentPending, status: http.StatusBadRequest, retryable: true, detailsOK: true},
		{code: CodeGatewayRejected, status: http.StatusBadRequest},
		{code: CodeGateway, status: http.StatusBadGateway, retryable: true},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeIdempotency, status: http.StatusConflict, detailsOK: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s has no public message", tt.code)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	if meta := MetadataFor("SOMETHING_UNKNOWN"); meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestRejectCarriesReason(t *testing.T) {
	err := Reject("price_mismatch", "price for P1 changed")
	if err.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", err.Code())
	}
	if err.Error() != "VALIDATION_ERROR(price_mismatch): price for P1 changed" {
		t.Fatalf("unexpected error string %q", err.Error())
	}

	wrapped := fmt.Errorf("validate: %w", err)
	if got := ReasonOf(wrapped); got != "price_mismatch" {
		t.Fatalf("expected reason through wrapping, got %q", got)
	}
	if !IsCode(wrapped, CodeValidation) {
		t.Fatalf("IsCode should see through fmt wrapping")
	}
	if ReasonOf(stdErrors.New("plain")) != "" {
		t.Fatalf("plain errors carry no reason")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeGateway, cause, "retrieve payment intent")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeGateway {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if Wrap(CodeInternal, nil, "x").Unwrap() != nil {
		t.Fatalf("nil cause should stay nil")
	}

	wrapped.WithDetails(map[string]any{"status": "requires_action"})
	if wrapped.Details() == nil {
		t.Fatalf("details should be preserved")
	}
}

func TestNilErrorAccessors(t *testing.T) {
	var e *Error
	if e.Code() != CodeInternal || e.Message() != "" || e.Reason() != "" || e.Details() != nil {
		t.Fatalf("nil error accessors should be zero values")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}
