package api

import (
	"net/http"
	"time"

	"github.com/triage-ai/blinkguard/internal/action"
	"github.com/triage-ai/blinkguard/internal/chread"
	"github.com/triage-ai/blinkguard/internal/metrics"
	"github.com/triage-ai/blinkguard/internal/registry"
	"github.com/triage-ai/blinkguard/internal/resolver"
	"github.com/triage-ai/blinkguard/internal/storage"
	"github.com/triage-ai/blinkguard/internal/store"
	"github.com/triage-ai/blinkguard/internal/trust"
	"go.uber.org/zap"
)

// DefaultAuthCacheTTL applies when Dependencies.CacheTTL is zero.
const DefaultAuthCacheTTL = 60 * time.Second

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store *store.Store // nil if Postgres is not configured
	// Keys authenticates API keys. Defaults to Store; when both are nil the
	// blink endpoints run unauthenticated under Policy.
	Keys      KeyStore
	Resolver  *resolver.Resolver
	Evaluator *trust.Evaluator
	Registry  *registry.Cache
	Actions   *action.Client
	Policy    *trust.PolicyHolder
	Writer    storage.EventWriter
	Reader    *chread.Reader // nil if ClickHouse unavailable
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	CacheTTL  time.Duration
}

func (d *Dependencies) setDefaults() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Keys == nil && d.Store != nil {
		d.Keys = d.Store
	}
	if d.Policy == nil {
		d.Policy = trust.StaticPolicy(nil)
	}
	if d.Writer == nil {
		d.Writer = storage.NewLogWriter(d.Logger)
	}
	if d.CacheTTL == 0 {
		d.CacheTTL = DefaultAuthCacheTTL
	}
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	deps.setDefaults()
	mux := http.NewServeMux()

	// Blink endpoints (auth required via Bearer bgk_ token when keys are configured)
	mux.HandleFunc("POST /v1/blinks/resolve", deps.authMiddleware(deps.handleResolve))
	mux.HandleFunc("POST /v1/blinks/inspect", deps.authMiddleware(deps.handleInspect))
	mux.HandleFunc("POST /v1/blinks/transaction", deps.authMiddleware(deps.handleTransaction))

	// Security registry
	mux.HandleFunc("GET /v1/registry", deps.handleGetRegistry)
	mux.HandleFunc("POST /v1/registry/refresh", deps.authMiddleware(deps.handleRefreshRegistry))

	if deps.Store != nil {
		// Project CRUD (no auth; dashboard auth added later)
		mux.HandleFunc("POST /api/blinks/projects", deps.handleCreateProject)
		mux.HandleFunc("GET /api/blinks/projects", deps.handleListProjects)
		mux.HandleFunc("GET /api/blinks/projects/{project_id}", deps.handleGetProject)
		mux.HandleFunc("PATCH /api/blinks/projects/{project_id}", deps.handleUpdateProject)
		mux.HandleFunc("DELETE /api/blinks/projects/{project_id}", deps.handleDeleteProject)
		mux.HandleFunc("POST /api/blinks/projects/{project_id}/rotate-key", deps.handleRotateKey)

		// Security policy CRUD (no auth)
		mux.HandleFunc("GET /api/blinks/projects/{project_id}/policy", deps.handleGetPolicy)
		mux.HandleFunc("PUT /api/blinks/projects/{project_id}/policy", deps.handleReplacePolicy)
		mux.HandleFunc("PATCH /api/blinks/projects/{project_id}/policy", deps.handleUpdatePolicy)
	}

	// Events & Analytics (no auth)
	mux.HandleFunc("GET /api/blinks/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/blinks/events/{event_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/blinks/analytics", deps.handleGetAnalytics)

	mux.Handle("GET /metrics", deps.Metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
