// Package app wires the HTTP router and the readiness probes.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/dlegrain/EVAL-COSEP/internal/adapter/httpserver"
	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	// Graded submissions call the oracle: rate limited and time boxed.
	r.Group(func(wr chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}
		wr.Use(httpserver.TimeoutMiddleware(timeout))
		wr.Post("/v1/extraction", srv.ExtractionHandler())
		wr.Post("/v1/collaboration", srv.CollaborationHandler())
		wr.Post("/v1/legal", srv.LegalHandler())
		wr.Post("/v1/canvas", srv.CanvasHandler())
	})
	r.Group(func(wr chi.Router) {
		wr.Use(httpserver.TimeoutMiddleware(30 * time.Second))
		wr.Post("/v1/progress/get", srv.GetProgressHandler())
		wr.Post("/v1/progress/update", srv.UpdateProgressHandler())
	})

	r.Get("/healthz", httpserver.HealthzHandler)
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	return httpserver.SecurityHeaders(r)
}
