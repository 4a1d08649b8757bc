package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/tishcommerce-checkout/internal/idempotency"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
)

const testSecret = "whsec_test"

func newGuard(t *testing.T) *idempotency.Guard {
	t.Helper()
	guard, err := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Minute, "stripe_webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func postEvent(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	t.Parallel()

	payload, header := buildSignedEvent(t, testSecret)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, newGuard(t), nil)

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	rec2 := postEvent(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_SignatureFailures(t *testing.T) {
	t.Parallel()

	payload, _ := buildSignedEvent(t, testSecret)
	_, forged := buildSignedEvent(t, "whsec_other")
	cases := map[string]string{
		"missing": "",
		"garbage": "t=1,v1=invalid",
		"forged":  forged,
	}
	for name, header := range cases {
		header := header
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			service := &fakeStripeWebhookService{}
			handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, newGuard(t), nil)

			rec := postEvent(handler, payload, header)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
			}
			if code := errorCode(t, rec.Body.Bytes()); code != string(pkgerrors.CodeSignature) {
				t.Fatalf("expected %s got %s", pkgerrors.CodeSignature, code)
			}
			if service.calls != 0 {
				t.Fatalf("service should not be invoked on invalid signature")
			}
		})
	}
}

func TestStripeWebhook_ServiceErrorAcknowledgesAndAllowsRedelivery(t *testing.T) {
	t.Parallel()

	payload, header := buildSignedEvent(t, testSecret)
	service := &fakeStripeWebhookService{err: errors.New("gateway down")}
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, newGuard(t), nil)

	if rec := postEvent(handler, payload, header); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after verified receipt, got %d", rec.Code)
	}
	service.err = nil
	if rec := postEvent(handler, payload, header); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected failed event to be reprocessed, calls=%d", service.calls)
	}
}

func TestStripeWebhook_GuardOutageStillProcesses(t *testing.T) {
	t.Parallel()

	payload, header := buildSignedEvent(t, testSecret)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, brokenGuard{}, nil)

	if rec := postEvent(handler, payload, header); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("expected event processed despite guard outage, calls=%d", service.calls)
	}
}

func buildSignedEvent(t *testing.T, secret string) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   2000,
		Currency: stripe.CurrencyUSD,
		Metadata: map[string]string{"orderId": "order-1"},
	}
	rawIntent, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawIntent,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, buildStripeSignatureHeader(payload, secret, time.Now().Unix())
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	return payload.Error.Code
}

type fakeStripeWebhookService struct {
	calls int
	err   error
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.calls++
	return f.err
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type brokenGuard struct{}

func (brokenGuard) CheckAndMark(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (brokenGuard) Delete(context.Context, string) error { return nil }
