package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-devicehub/internal/auth"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Read-only views
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware(auth.ScopeRead))

			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{id}", s.handleGetDevice)
			r.Get("/status", s.handleStatus)
			r.Get("/pairing", s.handlePairing)
			r.Get("/ws", s.handleWebSocket)
		})

		// Commands
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware(auth.ScopeWrite))

			r.Post("/devices/{id}/state", s.handleSetDeviceState)
			r.Post("/devices/{id}/commands", s.handleDeviceCommand)
			r.Post("/devices/{id}/refresh", s.handleDeviceRefresh)
		})
	})

	return r
}

// handleHealth reports the hub's stream status and each component check.
// Any failing component turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.health))
	healthy := true
	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"connection": s.hub.ConnectionStatus(),
		"components": components,
	})
}
