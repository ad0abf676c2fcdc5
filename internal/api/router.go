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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Device registration lifecycle
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleRegisterDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleUnregisterDevice)
					r.Post("/heartbeat", s.handleHeartbeat)
					r.Put("/critical", s.handleSetCritical)
				})
			})

			// Monitoring configuration
			r.Route("/monitoring", func(r chi.Router) {
				r.Get("/", s.handleGetMonitoring)
				r.Put("/", s.handlePutMonitoring)
			})

			// Current alarm-class sensor states
			r.Get("/sensors/critical", s.handleCriticalSensors)

			// Delivery outcome log
			r.Get("/outcomes/{eventID}", s.handleListOutcomes)

			// App event feed (WS clients pass the token as a query
			// parameter, accepted by authMiddleware)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status, including hub
// connectivity and the dispatch queue backlog.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.mqtt != nil {
		body["hub_connected"] = s.mqtt.IsConnected()
	}
	if s.engine != nil {
		body["queue_depth"] = s.engine.QueueDepth()
		body["overflow_backlog"] = s.engine.OverflowBacklog()
	}
	writeJSON(w, http.StatusOK, body)
}
