package server

import (
	"log/slog"
	"net/http"
)

// endpoints is advertised by / and /health.
var endpoints = []string{
	"GET /health",
	"GET /stats",
	"GET /presets",
	"GET /jobs/{userID}",
	"POST /jobs/{userID}/cancel",
}

// NewRouter creates the status API router. Recovery wraps logging so a
// panicking handler is still answered.
func NewRouter(h *Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /presets", h.Presets)
	mux.HandleFunc("GET /jobs/{userID}", h.GetJob)
	mux.HandleFunc("POST /jobs/{userID}/cancel", h.CancelJob)

	return RecoveryMiddleware(logger)(LoggingMiddleware(logger)(mux))
}
