package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultWSPath is used when no WebSocket path is configured.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}
	r.Get(wsPath, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/validate", s.handleValidate)

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/{deviceID}", s.handleGetDevice)
				r.Get("/diagnostics", s.handleDiagnostics)
				r.Post("/refresh", s.handleRefresh)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	coords := s.profiles.Coordinators()
	failing := 0
	for _, c := range coords {
		if c.LastError() != nil {
			failing++
		}
	}

	status := "ok"
	if failing > 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"profiles":       len(coords),
		"failing":        failing,
		"ws_clients":     s.hub.ClientCount(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
