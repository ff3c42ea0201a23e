// Package metrics hosts the process's Prometheus exposition endpoint.
// Every component registers its own collectors via promauto at package
// init (internal/historicalsync, internal/realtimesync, internal/rpcqueue,
// cmd/consumer); this package only serves the registry the teacher's
// main.go wired directly with promhttp.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes /metrics for Prometheus scraping.
type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds (but does not start) a metrics server bound to addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		http:   &http.Server{Addr: addr, Handler: promhttp.Handler()},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start runs the server until Shutdown is called, logging (not
// returning) a non-graceful listen error so callers can fire-and-forget
// it in a goroutine the way the teacher's main.go does.
func (s *Server) Start() {
	s.logger.Info().Str("address", s.http.Addr).Msg("starting metrics server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error().Err(err).Msg("metrics server error")
	}
}

// Shutdown gracefully stops the server within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
