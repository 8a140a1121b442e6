package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/godaikin-mqtt/internal/bridges/daikin"
)

// healthCheckTimeout bounds each component check of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
			r.Get("/system", s.handleSystem)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/history", s.handleGetDeviceHistory)
					r.Post("/commands", s.handleDeviceCommand)
				})
			})

			r.Post("/refresh", s.handleRefresh)
			r.Get("/audit", s.handleListAudit)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Bridge  daikin.BridgeMetrics `json:"bridge"`
	Checks  map[string]string    `json:"checks,omitempty"`
}

// handleHealth reports the bridge status and the result of every component
// check. It answers 503 when MQTT is down or a check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := s.bridge.GetMetrics()
	resp := healthResponse{
		Status:  m.Status,
		Version: s.version,
		Bridge:  m,
	}

	healthy := m.Connected
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := c.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				healthy = false
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		if resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, status, resp)
}

// handleRefresh requests an immediate reconciliation cycle.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.Refresh(); err != nil {
		if errors.Is(err, daikin.ErrNotStarted) {
			writeUnavailable(w, "bridge not started")
			return
		}
		s.logger.Error("refresh request failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}
