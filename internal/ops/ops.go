// Package ops serves the operational HTTP surface: liveness, readiness and
// Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const readinessTimeout = 3 * time.Second

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names one readiness dependency.
type Check struct {
	Name   string
	Target Pinger
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

// NewRouter returns the ops router. Metrics come from the default registry.
func NewRouter(log zerolog.Logger, checks ...Check) http.Handler {
	log = log.With().Str("component", "ops").Logger()
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", readiness(log, checks))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func readiness(log zerolog.Logger, checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		deps := make(map[string]dependencyStatus, len(checks))
		healthy := true
		for _, c := range checks {
			if err := c.Target.Ping(ctx); err != nil {
				deps[c.Name] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
				healthy = false
				log.Warn().Err(err).Str("dependency", c.Name).Msg("readiness check failed")
				continue
			}
			deps[c.Name] = dependencyStatus{Status: "ok"}
		}

		status, code := "ok", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		writeJSON(w, log, code, readinessResponse{Status: status, Dependencies: deps})
	}
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
