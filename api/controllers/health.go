package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/tishcommerce-checkout/api/responses"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/config"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency pinged by the readiness check (redis, database).
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storefront-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, deps map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storefront-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		failing := map[string]string{}
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				failing[name] = err.Error()
			}
		}
		if len(failing) > 0 {
			if logg != nil {
				logg.Warn(logg.WithField(r.Context(), "failing", failing), "health.not_ready")
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(failing))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
