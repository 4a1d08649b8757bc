package controllers

import (
	"net/http"

	"github.com/angelmondragon/tishcommerce-checkout/api/responses"
	"github.com/angelmondragon/tishcommerce-checkout/api/validators"
	checkoutsvc "github.com/angelmondragon/tishcommerce-checkout/internal/checkout"
	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

// ValidateAndCreatePayment validates the submitted order against the catalog
// and opens a pending payment with the chosen processor.
func ValidateAndCreatePayment(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var draft orders.Draft
		if err := validators.DecodeJSON(r, &draft); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ValidateAndCreatePayment(r.Context(), &draft)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PlaceOrder confirms a cash-on-delivery order synchronously.
func PlaceOrder(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var draft orders.Draft
		if err := validators.DecodeJSON(r, &draft); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.PlaceOrder(r.Context(), &draft)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func CheckoutSettings(svc checkoutsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		responses.WriteSuccess(w, svc.Settings())
	}
}
