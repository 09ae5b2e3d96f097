// Package httpserver exposes liveness, readiness, and metrics endpoints so
// operators can watch a long build from the outside. Readiness flips once
// the dataset has been assembled.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the operational HTTP listener of a build.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer creates the operational server. The readiness checker is
// consulted on every /readyz request; builds report not-ready until the
// dataset is assembled, so orchestrators can tell a working build from a
// hung one.
func NewServer(addr string, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newMux(ready),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: logger,
	}
}

// newMux wires the three operational routes. Probe handlers come from the
// shared observability module so every service in the org answers probes
// the same way.
func newMux(ready sharedobs.ReadinessChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("http server starting", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.srv.Handler.ServeHTTP(w, r)
}
