package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/authz"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/billing"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/httputil"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/middleware"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/superuser"
)

// maxWebhookBytes bounds provider event payloads
const maxWebhookBytes = 256 << 10

// Dependencies wires the components behind the API. RateLimits and Health
// are optional.
type Dependencies struct {
	Verifier   auth.TokenVerifier
	Issuer     *claims.Issuer
	Validator  *authz.Validator
	Admin      *superuser.Admin
	Webhooks   *billing.WebhookProcessor
	RateLimits *middleware.RateLimitMiddleware
	Health     *observability.HealthChecker
	Metrics    *observability.Metrics
	Logger     *observability.Logger
}

// Server is the HTTP front of the tenant core
type Server struct {
	router    *mux.Router
	deps      Dependencies
	claims    *ClaimsHandlers
	superuser *SuperUserHandlers
	billing   *BillingHandlers
}

// NewServer builds the router for deps
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	s := &Server{
		router:    mux.NewRouter(),
		deps:      deps,
		claims:    NewClaimsHandlers(deps.Issuer, deps.Validator),
		superuser: NewSuperUserHandlers(deps.Admin),
		billing:   NewBillingHandlers(deps.Webhooks),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(
		observability.RecoveryMiddleware(s.deps.Logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.deps.Logger),
		observability.HTTPMetricsMiddleware(s.deps.Metrics),
	)

	if s.deps.Health != nil {
		s.router.HandleFunc("/health", s.deps.Health.Readiness).Methods("GET")
		s.router.HandleFunc("/health/live", s.deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", s.deps.Health.Readiness).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	authed := httputil.Chain(
		middleware.NewAuthMiddleware(s.deps.Verifier, false).Handler,
		s.rateLimited,
	)
	s.claims.RegisterRoutes(v1, authed)
	s.superuser.RegisterRoutes(v1, authed)

	public := httputil.Chain(
		s.rateLimited,
		httputil.MaxBytesMiddleware(maxWebhookBytes),
	)
	s.billing.RegisterRoutes(v1, public)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, apperrors.NotFound, "route not found")
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.deps.RateLimits == nil {
		return next
	}
	return s.deps.RateLimits.Handler(next)
}
