package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/items"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/provisioning"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/users"
)

// PathPrefix is where the admin API is mounted
const PathPrefix = "/api/v1"

// Components lists every schema component in migration order
func Components() []storage.Component {
	return []storage.Component{
		users.Migrations(),
		rbac.Migrations(),
		auth.Migrations(),
		audit.Migrations(),
		items.Migrations(),
		provisioning.Migrations(),
	}
}

// Dependencies are the shared resources a Server is built from
type Dependencies struct {
	// DB is the primary database; every write goes here
	DB *sql.DB
	// ReadDB serves uncached policy reads; DB is used when nil. Pass
	// ConnectionManager.Reader so each read picks a replica.
	ReadDB storage.DBTX

	Cache       *rbac.PermissionCache
	AuditLogger audit.Logger
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	// SubjectLimiter and AnonymousLimiter enable rate limiting when both are set
	SubjectLimiter   middleware.Limiter
	AnonymousLimiter middleware.Limiter

	SessionHeader string
	MaxBodyBytes  int64
}

// Server is the admin HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler

	RBAC      *rbac.Store
	Users     *users.Store
	Tokens    *auth.TokenStore
	Items     *items.Store
	Evaluator *rbac.Evaluator
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if deps.AuditLogger == nil {
		deps.AuditLogger = audit.NopLogger()
	}
	if deps.ReadDB == nil {
		deps.ReadDB = deps.DB
	}

	var storeOpts []rbac.StoreOption
	var evalOpts []rbac.EvaluatorOption
	policyReads := deps.ReadDB
	if deps.Cache != nil {
		storeOpts = append(storeOpts, rbac.WithInvalidator(deps.Cache))
		evalOpts = append(evalOpts, rbac.WithCache(deps.Cache))
		// Invalidation fires on primary commit. A snapshot loaded from a
		// lagging replica after that would be cached under the new generation.
		policyReads = deps.DB
	}
	evalOpts = append(evalOpts, rbac.WithMetrics(deps.Metrics))

	rbacStore := rbac.NewStore(deps.DB, storeOpts...)
	s := &Server{
		router:    mux.NewRouter(),
		RBAC:      rbacStore,
		Users:     users.NewStore(deps.DB, rbacStore),
		Tokens:    auth.NewTokenStore(deps.DB),
		Items:     items.NewStore(deps.DB),
		Evaluator: rbac.NewEvaluator(rbac.NewReadStore(policyReads), evalOpts...),
	}

	s.setupRoutes(deps)

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
	}
	if deps.Metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	if deps.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(deps.MaxBodyBytes))
	}
	chain = append(chain, httputil.ContentTypeMiddleware)
	s.handler = httputil.Chain(chain...)(s.router)

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Dependencies) {
	gate := rbac.NewGate(s.Evaluator, deps.AuditLogger, deps.Logger)

	api := s.router.PathPrefix(PathPrefix).Subrouter()
	// Failed authentication passes through so the per-IP limiter counts
	// credential guessing before RequireAuthentication rejects it.
	authn := middleware.NewAuthMiddleware(s.Tokens, s.Users, middleware.AuthConfig{
		SessionHeader: deps.SessionHeader,
		Optional:      true,
	})
	api.Use(authn.Handler)
	if deps.SubjectLimiter != nil && deps.AnonymousLimiter != nil {
		api.Use(middleware.NewRateLimitMiddleware(deps.SubjectLimiter, deps.AnonymousLimiter).Handler)
	}
	api.Use(middleware.RequireAuthentication)

	rbac.NewHandlers(s.RBAC, gate, deps.AuditLogger, deps.Logger).RegisterRoutes(api)
	users.NewHandlers(s.Users, s.RBAC, gate, deps.AuditLogger, deps.Logger).RegisterRoutes(api)
	items.NewHandlers(s.Items, gate, deps.AuditLogger, deps.Logger).RegisterRoutes(api)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
