// Package server exposes the router over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mercator-hq/hermes/pkg/config"
	"mercator-hq/hermes/pkg/proxy"
	"mercator-hq/hermes/pkg/proxy/handlers"
	"mercator-hq/hermes/pkg/proxy/middleware"
	"mercator-hq/hermes/pkg/routing"
	"mercator-hq/hermes/pkg/telemetry/metrics"
	"mercator-hq/hermes/pkg/upstream"
)

// Server is the router's HTTP front end.
type Server struct {
	cfg        *config.RouterConfig
	resolver   *routing.Resolver
	upstream   *upstream.Client
	collector  *metrics.Collector
	httpServer *http.Server

	mu        sync.Mutex
	isRunning bool
}

// NewServer assembles the server from its collaborators.
func NewServer(cfg *config.RouterConfig, resolver *routing.Resolver, up *upstream.Client, collector *metrics.Collector) *Server {
	return &Server{
		cfg:       cfg,
		resolver:  resolver,
		upstream:  up,
		collector: collector,
	}
}

// Start binds the listen address and serves until ctx is cancelled or
// the listener fails. A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Server.ListenAddress,
		Handler: s.Handler(),
		// No WriteTimeout: streamed completions are long-lived.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting router server", "address", s.cfg.Server.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	running := s.isRunning
	s.isRunning = false
	s.mu.Unlock()
	if !running || s.httpServer == nil {
		return nil
	}

	timeout := s.cfg.Server.ShutdownTimeout.Std()
	slog.Info("initiating graceful shutdown", "timeout", timeout.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("router server stopped")
	return nil
}

// Handler builds the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	completions := handlers.NewCompletionsHandler(s.resolver, s.upstream, s.collector)
	mux.Handle("/v1/chat/completions", completions)
	mux.Handle("/completions", completions)
	mux.Handle("/config", handlers.NewConfigHandler(s.cfg))
	mux.Handle("/health", handlers.NewHealthHandler())
	mux.Handle("/metrics", s.collector.Handler())
	mux.HandleFunc("/", notFound)

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)

	return handler
}

// notFound answers unknown paths with the canonical envelope.
func notFound(w http.ResponseWriter, r *http.Request) {
	proxy.WriteError(w, &proxy.RouterError{
		Status:  http.StatusNotFound,
		Kind:    proxy.KindInvalidRequest,
		Message: fmt.Sprintf("no handler for path %q", r.URL.Path),
	})
}
