// Package core provides the API chassis for the CoachKit billing backend.
// It builds a chi router and enforces cross-cutting concerns (panic recovery,
// request ids, logging, CORS, compression, authentication, throttling)
// before requests reach domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"coachkit/internal/config"
)

// Server encapsulates the dependencies of the HTTP API.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// WebhookRoutes are mounted under /v1 without authentication or
	// throttling; the provider signs every delivery.
	WebhookRoutes []RouteRegistrar
	// PublicRoutes are mounted under /v1 with per-IP throttling.
	PublicRoutes []RouteRegistrar
	// ProtectedRoutes are mounted under /v1 behind AuthMiddleware.
	ProtectedRoutes []RouteRegistrar

	closers []func() error
	router  *chi.Mux
}

// NewServer validates critical dependencies and prepares the router. Routes
// are mounted separately by MountRoutes once registrars are attached.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a function to run during Shutdown, in reverse order
// of registration.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases resources registered with OnShutdown. Every closer runs
// even if an earlier one fails.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Logger.ErrorContext(ctx, "error during shutdown", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
