package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 5 * time.Second

// NewRouter mounts /metrics and /healthz.
func NewRouter(m *PrometheusMetrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Get("/metrics", m.Handler().ServeHTTP)
	return r
}

// Server serves the metrics router until its context is cancelled.
type Server struct {
	address string
	handler http.Handler
	logger  *slog.Logger
	ready   chan string
}

// NewServer creates a Server bound to address once Serve is called.
func NewServer(address string, m *PrometheusMetrics, loggerHandler slog.Handler) *Server {
	return &Server{
		address: address,
		handler: NewRouter(m),
		logger:  slog.New(loggerHandler).With(slog.String("component", "metricsServer")),
		ready:   make(chan string, 1),
	}
}

// Ready yields the bound address once the listener is open.
func (s *Server) Ready() <-chan string { return s.ready }

// Serve listens and serves until ctx is done, then shuts down gracefully.
// It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.address, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	bound := ln.Addr().String()
	s.logger.Info("Metrics endpoint listening", slog.String("address", "http://"+bound+"/metrics"))
	s.ready <- bound

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Metrics server shutdown failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.Debug("Metrics server stopped")
	return nil
}
