// Package api exposes outcome intake, producer registration and read-only gate
// queries over HTTP. Governance changes are not reachable from here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "hypogate/internal/errors"
	gatesvc "hypogate/internal/gate"
	"hypogate/internal/ledger"
	"hypogate/internal/metrics"
	"hypogate/internal/registry"
	"hypogate/ports"
)

// Config holds HTTP-level settings
type Config struct {
	IntakeRateLimit float64
	IntakeBurst     int
}

// Deps are the services the API fronts
type Deps struct {
	Registry *registry.Service
	Ledger   *ledger.Service
	Gate     *gatesvc.Gate
	Store    ports.GateStore
	Metrics  *metrics.Registry
	Logger   zerolog.Logger
	// Health reports backing store reachability; nil means always healthy.
	Health func(ctx context.Context) error
}

type Server struct {
	router   chi.Router
	registry *registry.Service
	ledger   *ledger.Service
	gate     *gatesvc.Gate
	store    ports.GateStore
	metrics  *metrics.Registry
	logger   zerolog.Logger
	health   func(ctx context.Context) error
	limiter  *rate.Limiter
}

// NewServer builds the router
func NewServer(deps Deps, cfg Config) *Server {
	if cfg.IntakeRateLimit <= 0 {
		cfg.IntakeRateLimit = 50
	}
	if cfg.IntakeBurst < 1 {
		cfg.IntakeBurst = 1
	}
	s := &Server{
		router:   chi.NewRouter(),
		registry: deps.Registry,
		ledger:   deps.Ledger,
		gate:     deps.Gate,
		store:    deps.Store,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "api").Logger(),
		health:   deps.Health,
		limiter:  rate.NewLimiter(rate.Limit(cfg.IntakeRateLimit), cfg.IntakeBurst),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/cohorts", s.handleRegisterCohort)
		r.Post("/hypotheses", s.handleRegisterHypothesis)

		r.Route("/hypotheses/{id}", func(r chi.Router) {
			r.With(rateLimit(s.limiter)).Post("/outcomes", s.handleRecordOutcome)
			r.Get("/outcomes", s.handleListOutcomes)
			r.Get("/audits", s.handleListAudits)
			r.Get("/eligibility", s.handleEligibility)
			r.Get("/state", s.handleState)
			r.Post("/evaluate", s.handleEvaluate)
		})
	})
}

// requestLogger logs one line per request
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// rateLimit sheds intake load once the token bucket is empty
func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, errorBody{Code: apperrors.CodeRateLimited, Error: "intake rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
