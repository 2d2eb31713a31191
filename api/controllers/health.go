package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/invite-ledger/api/responses"
	"github.com/angelmondragon/invite-ledger/pkg/config"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/types"
)

const (
	envHeader    = "X-Invites-Env"
	readyTimeout = 3 * time.Second
)

type pinger interface {
	Ping(context.Context) error
}

// ReadinessCheck names one dependency probed by HealthReady.
type ReadinessCheck struct {
	Name   string
	Pinger pinger
}

type healthResponse struct {
	types.Ack
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, healthResponse{Ack: types.Ack{OK: true}, Status: "live"})
	}
}

// HealthReady pings every configured dependency. Checks with a nil pinger are
// skipped so optional dependencies (Redis) can be left out.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		results := make(map[string]string, len(checks))
		healthy := true
		for _, check := range checks {
			if check.Pinger == nil {
				continue
			}
			if err := check.Pinger.Ping(ctx); err != nil {
				results[check.Name] = "down"
				healthy = false
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", check.Name), "health.ready.dependency_down", err)
				}
				continue
			}
			results[check.Name] = "up"
		}

		if !healthy {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").
				WithDetails(map[string]any{"checks": results}))
			return
		}
		responses.WriteSuccess(w, healthResponse{Ack: types.Ack{OK: true}, Status: "ready", Checks: results})
	}
}
