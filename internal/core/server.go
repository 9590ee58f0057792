// Package core provides the HTTP chassis for the FairBill payment gateway.
// It creates a chi router and enforces cross-cutting concerns -- panic
// recovery, request timeouts, correlation IDs, security headers, and
// structured request logging -- before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fairbill/internal/config"
)

// Server encapsulates the chassis dependencies for the gateway API, allowing
// for easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// V1RouteRegistrars mount domain handler routes under /v1. They are
	// populated by the application entry point; the indirection avoids an
	// import cycle between core and the handler packages.
	V1RouteRegistrars []func(chi.Router)

	// HealthProbes are the dependency checks executed by GET /health.
	HealthProbes []HealthProbe

	// DB is the database handle closed during Shutdown. Declared as a
	// minimal interface (satisfied by *pgxpool.Pool) so tests can observe
	// the close.
	DB interface{ Close() }

	// Internal router
	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a "fail-fast" check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router, as consumed by
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources. The HTTP
// listener itself is owned and drained by the entry point; this closes the
// database pool once in-flight requests have finished.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	if s.DB != nil {
		s.DB.Close()
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
