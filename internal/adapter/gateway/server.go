// Package gateway is the HTTP analysis proxy: it accepts a still image,
// forwards it to the vision service and returns the analysis envelope.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"snapsight/internal/infra/config"
	"snapsight/internal/infra/middleware"
)

// Server hosts the analysis proxy.
type Server struct {
	cfg     config.ProxyConfig
	handler *Handler
	logger  *slog.Logger

	httpSrv   *http.Server
	boundAddr string

	// cancel stops the rate limiter cleanup goroutine.
	cancel context.CancelFunc
}

// NewServer creates a proxy server.
func NewServer(cfg config.ProxyConfig, handler *Handler, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Routes builds the full middleware-wrapped handler. ctx bounds the rate
// limiter's background cleanup.
func (s *Server) Routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	s.handler.Register(mux)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Recover(s.logger),
		middleware.SecurityHeaders,
	}
	if s.cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimit(ctx, s.cfg.RateLimit))
	}
	if s.cfg.MaxUploadBytes > 0 {
		mws = append(mws, middleware.MaxBytes(s.cfg.MaxUploadBytes))
	}
	return middleware.Chain(mux, mws...)
}

// Start begins serving. Non-blocking (serves in a goroutine).
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("proxy listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	go func() {
		s.logger.Info("analysis proxy started", "addr", s.boundAddr, "routes", s.cfg.Routes)
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("proxy server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		defer s.cancel()
	}
	if s.httpSrv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
