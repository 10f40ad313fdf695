// Package server exposes the pipeline over a small HTTP API. It is a thin
// shell: every handler validates input, calls the service facade, and maps
// domain errors to status codes. No business logic lives here.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"lectern/internal/audiobook"
	"lectern/internal/dispatch"
	"lectern/internal/pipeline"
)

// Server is the main Lectern HTTP server.
type Server struct {
	httpServer *http.Server
	service    *pipeline.Service
	assembler  *audiobook.Assembler
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Addr is the address to bind to (default: :8080)
	Addr string
	// Service is the pipeline facade; required.
	Service *pipeline.Service
	// Assembler builds audiobooks; optional, audiobook routes 404 without it.
	Assembler *audiobook.Assembler
	// Dispatcher is exposed for health reporting and audiobook enqueue.
	Dispatcher *dispatch.Dispatcher
	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		service:    cfg.Service,
		assembler:  cfg.Assembler,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withRequestLog(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start begins listening. It returns once the listener is bound; serving
// continues on a background goroutine until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.httpServer.Shutdown(ctx)
}

// withRequestLog logs each request with method, path, and duration.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
