package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/loopcart/recur/pkg/httputil"
	"github.com/loopcart/recur/pkg/middleware"
	"github.com/loopcart/recur/pkg/observability"
	"github.com/loopcart/recur/pkg/plans"
	"github.com/loopcart/recur/pkg/pricing"
	"github.com/loopcart/recur/pkg/retention"
	"github.com/loopcart/recur/pkg/tenancy"
)

// maxRequestBody caps API request bodies; no operation legitimately
// needs more than 1MB of JSON.
const maxRequestBody = 1 << 20

// Config carries the services and collaborators the server exposes
type Config struct {
	PlanService      plans.Service
	PricingService   pricing.Service
	RetentionService retention.Service

	// Resolver and AccessResolver guard company-scoped routes; both may be
	// nil, which disables the company middleware (tests, local runs).
	Resolver       tenancy.Resolver
	AccessResolver tenancy.AccessResolver

	Metrics *observability.Metrics

	// RateLimit, when set, throttles requests. It runs after the company
	// context middleware so company-keyed buckets apply. Nil disables it.
	RateLimit func(http.Handler) http.Handler

	// RequestTimeout bounds handler execution; zero disables the bound.
	RequestTimeout time.Duration
}

// Server represents the billing and retention API server
type Server struct {
	router *mux.Router

	planHandlers      *PlanHandlers
	pricingHandlers   *PricingHandlers
	retentionHandlers *RetentionHandlers
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	s := &Server{
		router:            mux.NewRouter(),
		planHandlers:      NewPlanHandlers(cfg.PlanService),
		pricingHandlers:   NewPricingHandlers(cfg.PricingService),
		retentionHandlers: NewRetentionHandlers(cfg.RetentionService),
	}

	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(httputil.LoggingMiddleware)
	s.router.Use(httputil.MaxBytesMiddleware(maxRequestBody))
	if cfg.RequestTimeout > 0 {
		s.router.Use(httputil.TimeoutMiddleware(cfg.RequestTimeout))
	}
	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	if cfg.Resolver != nil {
		s.router.Use(middleware.CompanyContextMiddleware(cfg.Resolver))
	}
	if cfg.RateLimit != nil {
		s.router.Use(mux.MiddlewareFunc(cfg.RateLimit))
	}
	if cfg.AccessResolver != nil {
		s.router.Use(middleware.CompanyAccessMiddleware(cfg.AccessResolver))
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.planHandlers.RegisterRoutes(s.router)
	s.pricingHandlers.RegisterRoutes(s.router)
	s.retentionHandlers.RegisterRoutes(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
