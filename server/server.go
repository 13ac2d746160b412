// Package server provides the operational HTTP server for flowctl serve.
//
// The server exposes health, metrics and read-only diagnostics for a running
// orchestrator, and drives the maintenance cron triggers for the lifetime of
// the process.
//
// # Endpoints
//
//   - GET /health - Returns "ok", or 503 when a health check fails
//   - GET /metrics - Prometheus exposition, when a scrape registry is configured
//   - GET /api/performance?window=15m - Operation statistics and threshold violations
//   - GET /api/audit - Recent audit entries, filtered by query parameters
//   - GET /api/status - Build info, uptime and the next maintenance run
//
// # Example
//
//	srv := server.New(tracker,
//	    server.WithListenAddr(":8080"),
//	    server.WithAudit(auditLog),
//	    server.WithCron(manager),
//	)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nomis52/flowmaster/cron"
	"github.com/nomis52/flowmaster/server/handlers"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultListenAddr      = ":8080"
)

// Server is the operational HTTP server.
type Server struct {
	addr      string
	logger    *slog.Logger
	reporter  handlers.PerformanceReporter
	audit     handlers.AuditQuerier
	metrics   http.Handler
	cron      *cron.Manager
	tls       *tls.Config
	checks    map[string]handlers.CheckFunc
	startedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithListenAddr configures the address the server listens on.
// Default is ":8080".
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCron starts the manager's triggers when the server runs.
func WithCron(m *cron.Manager) Option {
	return func(s *Server) {
		s.cron = m
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithAudit serves q at /api/audit.
func WithAudit(q handlers.AuditQuerier) Option {
	return func(s *Server) {
		s.audit = q
	}
}

// WithHealthCheck adds a named check to /health.
func WithHealthCheck(name string, check handlers.CheckFunc) Option {
	return func(s *Server) {
		if s.checks == nil {
			s.checks = make(map[string]handlers.CheckFunc)
		}
		s.checks[name] = check
	}
}

// WithTLS serves HTTPS using the loader's certificate.
func WithTLS(l *CertLoader) Option {
	return func(s *Server) {
		s.tls = l.TLSConfig()
	}
}

// New creates a Server reporting from reporter.
func New(reporter handlers.PerformanceReporter, opts ...Option) *Server {
	s := &Server{
		addr:      defaultListenAddr,
		logger:    slog.Default(),
		reporter:  reporter,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// NextMaintenance returns the next scheduled maintenance run, or nil if no
// triggers are configured.
func (s *Server) NextMaintenance() *time.Time {
	if s.cron == nil {
		return nil
	}
	next := s.cron.NextRun()
	if next.IsZero() {
		return nil
	}
	return &next
}

// StartedAt returns when the server was created.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", handlers.NewHealthHandler(s.checks))
	mux.Handle("GET /api/performance", handlers.NewPerformanceHandler(s.reporter))
	mux.Handle("GET /api/status", handlers.NewAPIStatusHandler(s))
	if s.audit != nil {
		mux.Handle("GET /api/audit", handlers.NewAuditHandler(s.audit))
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done.
// If cron triggers are configured, they are started first.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		TLSConfig:    s.tls,
	}

	if s.cron != nil {
		s.logger.Info("starting maintenance triggers", "next_run", s.cron.NextRun())
		s.cron.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.addr, "tls", s.tls != nil)
		var err error
		if s.tls != nil {
			// Certificates come from TLSConfig.GetCertificate.
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
