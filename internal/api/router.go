package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Liveness (no auth required)
		r.Get("/health", s.handleHealth)

		// Prometheus exposition
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		}

		r.Route("/hardware", func(r chi.Router) {
			r.Route("/pairing", func(r chi.Router) {
				r.Post("/initiate", s.handlePairingInitiate)
				r.Post("/respond", s.handlePairingRespond)
			})

			r.Route("/session", func(r chi.Router) {
				r.Post("/rotate", s.handleSessionRotate)
				r.Post("/revoke", s.handleSessionRevoke)
			})

			r.Post("/action-token", s.handleActionToken)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/status", s.handleDeviceStatus)
					r.Post("/commands", s.handleDeviceCommand)
				})
			})
		})

		// Audit trail for operator dashboards
		r.Get("/audit", s.handleListAudit)

		// WebSocket event stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
