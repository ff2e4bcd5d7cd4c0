package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the HTTP API.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe, 503 until the node is running
//   - GET /api/status - Lifecycle phase and startup stage
//   - POST /api/setup/{step} - Complete a manual setup step
//   - GET /api/cluster/nodes - Raft membership
//   - POST /api/cluster/join - Add a voter to the cluster
//   - GET /metrics - Prometheus metrics
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", s.liveness)
		r.Get("/ready", s.readiness)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/setup/{step}", s.completeStep)
		r.Route("/cluster", func(r chi.Router) {
			r.Get("/nodes", s.clusterNodes)
			r.Post("/join", s.clusterJoin)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logArgs := []any{
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			}

			// Probes and scrapes stay at DEBUG
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				logger.Debug("API request completed", logArgs...)
				return
			}
			logger.Info("API request completed", logArgs...)
		})
	}
}
