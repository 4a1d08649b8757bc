package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/tishcommerce-checkout/api/responses"
	"github.com/angelmondragon/tishcommerce-checkout/api/validators"
	"github.com/angelmondragon/tishcommerce-checkout/internal/downloads"
	"github.com/angelmondragon/tishcommerce-checkout/internal/fulfillment"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

const maxReferenceLen = 255

type reconciler interface {
	Reconcile(ctx context.Context, trigger enums.Trigger, method enums.PaymentMethod, reference string) (*fulfillment.Result, error)
}

type verifyRequest struct {
	PaymentReference string `json:"paymentReference" validate:"required,max=255"`
	PaymentMethodID  string `json:"paymentMethodId,omitempty" validate:"omitempty,oneof=stripe paypal"`
}

type captureRequest struct {
	PaymentReference string `json:"paymentReference" validate:"required,max=255"`
}

type verifyResponse struct {
	Success          bool                `json:"success"`
	OrderID          string              `json:"orderId,omitempty"`
	PaymentReference string              `json:"paymentReference"`
	PaymentMethod    enums.PaymentMethod `json:"paymentMethodId"`
	State            enums.OrderState    `json:"state"`
	EmailsSent       bool                `json:"emailsSent"`
	Downloads        []downloads.Link    `json:"downloads"`
}

func newVerifyResponse(res *fulfillment.Result) verifyResponse {
	links := res.Downloads
	if links == nil {
		links = []downloads.Link{}
	}
	return verifyResponse{
		Success:          res.Paid(),
		OrderID:          res.OrderID,
		PaymentReference: res.Reference,
		PaymentMethod:    res.Method,
		State:            res.State,
		EmailsSent:       res.EmailsSent,
		Downloads:        links,
	}
}

// VerifyPayment is the client-side poll after the processor redirect. A paid
// order is fulfilled here if the webhook has not done so already.
func VerifyPayment(rec reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload verifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method := enums.InferPaymentMethod(payload.PaymentReference)
		if payload.PaymentMethodID != "" {
			method = enums.PaymentMethod(payload.PaymentMethodID)
		}

		res, err := rec.Reconcile(r.Context(), enums.TriggerVerify, method, payload.PaymentReference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newVerifyResponse(res))
	}
}

// CapturePayPal captures an approved PayPal order and fulfills it in the same request.
func CapturePayPal(rec reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload captureRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := rec.Reconcile(r.Context(), enums.TriggerCapture, enums.PaymentMethodPayPal, payload.PaymentReference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newVerifyResponse(res))
	}
}

// Downloads returns the links of a settled order. Nothing is returned until
// the processor reports the payment as complete.
func Downloads(rec reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference, err := validators.RequiredQuery(r, "paymentReference", maxReferenceLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method := enums.InferPaymentMethod(reference)
		if raw := validators.OptionalQuery(r, "paymentMethodId", 32); raw != "" {
			parsed, err := enums.ParsePaymentMethod(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Reject("invalid_payment_method", err.Error()))
				return
			}
			method = parsed
		}

		res, err := rec.Reconcile(r.Context(), enums.TriggerDownload, method, reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newVerifyResponse(res))
	}
}

type redeemer interface {
	Redeem(ctx context.Context, token string) (string, error)
}

// RedeemDownload verifies a signed download token and redirects to the
// catalog URL registered for its product right now.
func RedeemDownload(links redeemer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := validators.RequiredQuery(r, "token", 4096)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := links.Redeem(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, target, http.StatusFound)
	}
}
