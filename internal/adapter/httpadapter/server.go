package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readinessTimeout bounds one /readyz evaluation so a hung dependency reports
// not-ready instead of hanging the request.
const readinessTimeout = 2 * time.Second

// Server exposes liveness, readiness and metrics for the service.
type Server struct {
	httpServer *http.Server
	checks     AllReady
	logger     *slog.Logger
}

// NewServer creates the HTTP server. /readyz passes only when every check
// passes; with no checks it always passes.
func NewServer(addr string, logger *slog.Logger, checks ...sharedobs.ReadinessChecker) *Server {
	s := &Server{checks: AllReady(checks), logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(s))
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// CheckReadiness runs the checks under readinessTimeout.
func (s *Server) CheckReadiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	if err := s.checks.CheckReadiness(ctx); err != nil {
		s.logger.Debug("readiness check failed", "error", err)
		return err
	}
	return nil
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr, "checks", len(s.checks))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains open connections until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
