package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/triage-ai/blinkguard/internal/cache"
	"github.com/triage-ai/blinkguard/internal/store"
	"github.com/triage-ai/blinkguard/internal/trust"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// apiKeyPrefix marks blinkguard project keys.
const apiKeyPrefix = "bgk_"

// KeyStore resolves an API key prefix to its project. Implemented by
// *store.Store.
type KeyStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*store.ProjectWithPolicy, error)
}

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey int

const projectCtxKey contextKey = iota

// authProject holds the authenticated project context for a request.
type authProject struct {
	ID     string
	Mode   string
	Policy *trust.PolicyConfig
}

// projectFromContext extracts the authenticated project from the request context.
func projectFromContext(ctx context.Context) *authProject {
	v, _ := ctx.Value(projectCtxKey).(*authProject)
	return v
}

var errUnknownKey = errors.New("project not found for prefix")

// --- Auth middleware ---

// authMiddleware returns an http.HandlerFunc that validates Bearer bgk_ tokens
// and injects the authenticated project into the request context. Without a
// KeyStore every request runs as an anonymous enforcing project under the
// server policy.
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	if d.Keys == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			proj := &authProject{Mode: store.ModeEnforce, Policy: d.Policy.Current()}
			next(w, r.WithContext(context.WithValue(r.Context(), projectCtxKey, proj)))
		}
	}

	keys := cache.NewTTLCache[*authProject](d.CacheTTL)

	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid Authorization header"})
			return
		}
		if len(token) < store.APIKeyPrefixLength || !strings.HasPrefix(token, apiKeyPrefix) {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key format"})
			return
		}

		res := keys.Get(token)
		if res.Hit && res.NeedsRefresh {
			// Stale hit: serve it and refresh in the background
			go d.refreshAuth(keys, token)
		}
		if res.Present {
			ctx := context.WithValue(r.Context(), projectCtxKey, res.Value)
			next(w, r.WithContext(ctx))
			return
		}

		proj, err := d.authenticateToken(r.Context(), token)
		if err != nil {
			d.Logger.Warn("auth failed", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key"})
			return
		}

		keys.Set(token, proj)
		ctx := context.WithValue(r.Context(), projectCtxKey, proj)
		next(w, r.WithContext(ctx))
	}
}

// authenticateToken validates an API key and returns the project context.
func (d *Dependencies) authenticateToken(ctx context.Context, token string) (*authProject, error) {
	pw, err := d.Keys.LookupByPrefix(ctx, token[:store.APIKeyPrefixLength])
	if err != nil {
		return nil, err
	}
	if pw == nil {
		return nil, errUnknownKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(pw.APIKeyHash), []byte(token)); err != nil {
		return nil, err
	}

	policy, err := pw.Policy.Config()
	if err != nil {
		d.Logger.Warn("unreadable project policy, using server policy",
			zap.String("project_id", pw.ID),
			zap.Error(err),
		)
		policy = d.Policy.Current()
	}

	return &authProject{
		ID:     pw.ID,
		Mode:   pw.Mode,
		Policy: policy,
	}, nil
}

// refreshAuth refreshes the cache entry in the background.
func (d *Dependencies) refreshAuth(keys *cache.TTLCache[*authProject], token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	proj, err := d.authenticateToken(ctx, token)
	if err != nil {
		d.Logger.Warn("background auth refresh failed", zap.Error(err))
		if errors.Is(err, errUnknownKey) || errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			keys.Delete(token)
		}
		return
	}
	keys.Set(token, proj)
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
