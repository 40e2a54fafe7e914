// Package web provides the HTTP server and the JSON API over the loaded
// operator registry and expense ledger.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/assadlabs/ansflow/internal/config"
	"github.com/assadlabs/ansflow/internal/schema"
	"github.com/assadlabs/ansflow/internal/store"
)

// Querier is the read-side surface the handlers need. Satisfied by
// *store.Store; narrowed so tests can fake it.
type Querier interface {
	ListOperators(ctx context.Context, page, pageSize int, search string) (*store.OperatorPage, error)
	GetOperator(ctx context.Context, registroANS string) (*schema.Operator, error)
	ListExpenses(ctx context.Context, registroANS string) ([]store.ExpenseEntry, error)
	TopGrowth(ctx context.Context) ([]store.GrowthEntry, error)
	ExpensesByState(ctx context.Context) ([]store.StateDistribution, error)
	AboveAverageQuarters(ctx context.Context) ([]store.AboveAverageEntry, error)
}

// Server is the HTTP server for the query API.
type Server struct {
	store  Querier
	cfg    config.ServerConfig
	log    *slog.Logger
	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server with routes and middleware configured.
func NewServer(st Querier, cfg config.ServerConfig, log *slog.Logger) *Server {
	s := &Server{
		store:  st,
		cfg:    cfg,
		log:    log,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/operators", s.handleListOperators)
		r.Get("/operators/{registroANS}", s.handleGetOperator)
		r.Get("/operators/{registroANS}/expenses", s.handleListExpenses)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/growth", s.handleTopGrowth)
			r.Get("/by-state", s.handleExpensesByState)
			r.Get("/above-average", s.handleAboveAverage)
		})
	})
}

// Start begins listening for HTTP requests. Blocks until the server
// stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.log.Info("server listening", "addr", s.cfg.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds baseline hardening headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v and writes it to w. Encoding errors are logged
// since headers are already sent.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "error", err)
	}
}
