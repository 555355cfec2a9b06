// Package server exposes the HTTP surface: auth, audit, soul, brain, model,
// extensions, integrations, and tasks under /api/v1, plus the unversioned
// health probe. Authentication happens in middleware; authorization is a
// per-route permission check against the RBAC engine.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/ai"
	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/auth"
	"github.com/secureyeoman/secureyeoman/pkg/config"
	"github.com/secureyeoman/secureyeoman/pkg/hooks"
	"github.com/secureyeoman/secureyeoman/pkg/integration"
	"github.com/secureyeoman/secureyeoman/pkg/memory"
	"github.com/secureyeoman/secureyeoman/pkg/observability"
	"github.com/secureyeoman/secureyeoman/pkg/ratelimit"
	"github.com/secureyeoman/secureyeoman/pkg/rbac"
	"github.com/secureyeoman/secureyeoman/pkg/soul"
	"github.com/secureyeoman/secureyeoman/pkg/task"
)

// Deps carries every subsystem the HTTP layer serves. Optional fields may
// be nil; their routes then answer 500 storage_unavailable or are skipped.
type Deps struct {
	Config *config.Config

	Auth    *auth.Service
	Tokens  *auth.TokenService
	APIKeys *auth.APIKeyStore

	Audit      *audit.Chain
	AuditStore audit.Storage

	Roles *rbac.Store
	RBAC  *rbac.Engine

	Soul         *soul.Service
	Memory       *memory.Engine
	Consolidator *memory.Consolidator

	Gateway     *ai.Gateway
	Catalog     *ai.Catalog
	ModelRouter *ai.Router
	Usage       *ai.UsageTracker
	Optimizer   *ai.Optimizer

	Hooks     *hooks.Engine
	HookStore *hooks.Store
	Discovery *hooks.Discovery
	Webhooks  *hooks.WebhookDispatcher

	Integrations *integration.Store
	IntRouter    *integration.Router

	Tasks *task.Executor

	Visitors  *ratelimit.VisitorLimiter
	Telemetry *observability.Provider
}

// Server is the HTTP front. Build it with New, mount Handler, and drive the
// lifecycle with Start/Shutdown.
type Server struct {
	d       Deps
	logger  *slog.Logger
	started time.Time
	httpSrv *http.Server
}

func New(d Deps) *Server {
	return &Server{
		d:       d,
		logger:  slog.Default().With("component", "server"),
		started: time.Now(),
	}
}

// Handler builds the full middleware chain around the route table:
// request id, CORS, per-IP rate shaping, then authentication. Authorization
// happens inside the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	s.routeAuth(mux)
	s.routeRoles(mux)
	s.routeAudit(mux)
	s.routeSoul(mux)
	s.routeBrain(mux)
	s.routeModel(mux)
	s.routeExtensions(mux)
	s.routeIntegrations(mux)
	s.routeTasks(mux)

	mux.HandleFunc("GET /api/v1/system/status", s.require("system", "read", s.handleSystemStatus))

	var h http.Handler = mux
	h = auth.Middleware(s.d.Tokens, s.d.APIKeys)(h)
	h = s.shapeTraffic(h)
	h = s.track(h)
	h = auth.CORSMiddleware(nil)(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// require wraps a handler with an RBAC permission check. Denials are 403;
// the engine records the permission_denied audit entry itself.
func (s *Server) require(resource, action string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.PrincipalFrom(r.Context())
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		dec, err := s.d.RBAC.CheckPermission(r.Context(), p.Role, rbac.Request{
			Resource: resource,
			Action:   action,
		}, p.ID)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		if !dec.Granted {
			api.WriteErrorMsg(w, http.StatusForbidden, "permission denied")
			return
		}
		h(w, r)
	}
}

// shapeTraffic applies the per-IP visitor limiter when one is wired.
func (s *Server) shapeTraffic(next http.Handler) http.Handler {
	if s.d.Visitors == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.d.Visitors.Allow(auth.ClientIP(r)) {
			api.WriteRateLimited(w, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// track records request rate, errors, and duration per path family.
func (s *Server) track(next http.Handler) http.Handler {
	if s.d.Telemetry == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, done := s.d.Telemetry.TrackOperation(r.Context(), "http "+r.Method+" "+r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
		done(nil)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	}
	if s.d.Config != nil {
		status["version"] = s.d.Config.Version
	}
	if s.d.Gateway != nil {
		provider, model := s.d.Gateway.Default()
		status["providers"] = s.d.Gateway.Providers()
		status["defaultProvider"] = provider
		status["defaultModel"] = model
	}
	if s.d.Integrations != nil {
		if list, err := s.d.Integrations.List(r.Context()); err == nil {
			status["integrations"] = len(list)
		}
	}
	if s.d.AuditStore != nil {
		if n, err := s.d.AuditStore.Count(r.Context()); err == nil {
			status["auditEntries"] = n
		}
	}
	api.WriteJSON(w, http.StatusOK, status)
}

// queryInt parses an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func queryInt64(r *http.Request, key string) int64 {
	n, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
