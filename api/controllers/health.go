package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prasit-dev/slipgate-backend/api/responses"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
)

const readyProbeTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthLive reports process liveness without touching any dependency.
func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-SlipGate-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and redis; either failing yields 503.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbPinger, redisPinger pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-SlipGate-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()

		var failed []string
		if err := probe(ctx, dbPinger); err != nil {
			failed = append(failed, "database: "+err.Error())
		}
		if err := probe(ctx, redisPinger); err != nil {
			failed = append(failed, "redis: "+err.Error())
		}

		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeNotReady, "readiness check failed: "+strings.Join(failed, "; ")))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}

func probe(ctx context.Context, p pinger) error {
	if p == nil {
		return errors.New("not configured")
	}
	return p.Ping(ctx)
}
