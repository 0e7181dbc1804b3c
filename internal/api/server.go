// Package api provides the HTTP surface of medicore.
//
// Endpoints:
//
//	POST /api/chat                        - RAG chat, streamed pass-through
//	POST /api/conversations               - create a conversation
//	GET  /api/conversations/{id}/messages - conversation turns
//	POST /api/backfill                    - embedding backfill pass
//	GET  /health, GET /ready              - probes
//
// File structure follows the handlers: server.go (setup and lifecycle),
// middleware.go (recovery, logging, rate limit, CORS), response.go (JSON
// helpers), one file per handler.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8787"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads (Slowloris protection).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because chat responses stream.
	WriteTimeout = 2 * time.Minute

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 2 * time.Minute
)

// ServerConfig carries the dependencies of the HTTP server.
type ServerConfig struct {
	Pipeline   ChatPipeline
	History    *chatlog.Store
	Backfill   BackfillFunc
	Pool       *pgxpool.Pool
	Logger     log.Logger
	RatePerSec float64
	RateBurst  int
}

// Server is the medicore HTTP server.
type Server struct {
	mux     *http.ServeMux
	limiter *rateLimiter
	logger  log.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}

	mux := http.NewServeMux()

	NewChatHandler(cfg.Pipeline, cfg.History, cfg.Logger).RegisterRoutes(mux)
	NewHealthHandler(cfg.Pool, cfg.Logger).RegisterRoutes(mux)
	if cfg.History != nil {
		NewConversationHandler(cfg.History, cfg.Logger).RegisterRoutes(mux)
	}
	if cfg.Backfill != nil {
		NewBackfillHandler(cfg.Backfill, cfg.Logger).RegisterRoutes(mux)
	}

	return &Server{
		mux:     mux,
		limiter: newRateLimiter(cfg.RatePerSec, cfg.RateBurst),
		logger:  cfg.Logger,
	}, nil
}

// Handler returns the HTTP handler with middleware applied.
// Order: recovery → logging → CORS → rate limit → routes. CORS sits
// outside the rate limiter so preflights always succeed.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(),
		rateLimitMiddleware(s.limiter, s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
