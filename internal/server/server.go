package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/placement-matcher/internal/observability"
	"github.com/jonathan/placement-matcher/internal/pipeline"
	"github.com/jonathan/placement-matcher/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	orch       *pipeline.Orchestrator
	metrics    *observability.Collector
	logger     *zap.Logger
	jwtService *JWTService
}

// Config holds server configuration
type Config struct {
	Port int

	// AuthSecret enables bearer-token auth on mutating endpoints when
	// non-empty. Read-only endpoints stay open either way.
	AuthSecret string
	TokenTTL   time.Duration
}

// New creates a new server instance
func New(cfg Config, orch *pipeline.Orchestrator, metrics *observability.Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		orch:    orch,
		metrics: metrics,
		logger:  logger,
	}
	if cfg.AuthSecret != "" {
		s.jwtService = NewJWTService(cfg.AuthSecret, cfg.TokenTTL)
	}

	mux := http.NewServeMux()

	// Mutating endpoints, guarded when auth is configured.
	mux.Handle("POST /match/run", s.guarded(s.handleStartRun))
	mux.Handle("POST /match/{session_id}/advance", s.guarded(s.handleAdvance))
	mux.Handle("POST /match/{session_id}/exclude", s.guarded(s.handleExclude))
	mux.Handle("POST /match/{session_id}/cancel", s.guarded(s.handleCancel))

	// Read-only endpoints.
	mux.HandleFunc("GET /match/{session_id}/status", s.handleStatus)
	mux.HandleFunc("GET /match/compare", s.handleCompare)
	mux.HandleFunc("GET /health", s.handleHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// guarded wraps a handler with bearer-token auth when configured.
func (s *Server) guarded(h http.HandlerFunc) http.Handler {
	if s.jwtService == nil {
		return h
	}
	return middleware.Auth(s.jwtService.AsTokenValidator())(h)
}

// Start begins listening for requests and blocks until SIGINT/SIGTERM.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-stop
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Handler exposes the full middleware stack for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	s.jsonResponse(w, HTTPStatus(err), map[string]string{"error": err.Error()})
}
