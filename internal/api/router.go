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

	// Liveness probe
	r.Get("/health", s.handleHealth)

	// Device gateway WebSocket endpoint
	r.Get("/ws", s.gateway.HandleWS)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Post("/", s.handleCreateDevice)
			r.Delete("/", s.handleDeleteDevice)
			r.Post("/register", s.handleRegisterDevice)
		})

		r.Post("/sms", s.handleSendSMS)

		r.Get("/history", s.handleHistory)
		r.Get("/stats", s.handleStats)
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
