package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pulseboard/internal/config"
	"pulseboard/internal/query"
)

type contextKey int

const cacheKey contextKey = iota

// withQueryCache injects the query cache into the request context. It is the
// outermost layer of the protected chain.
func withQueryCache(cache *query.Cache, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), cacheKey, cache)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CacheFrom returns the query cache injected by the protected chain, or nil
// outside of it.
func CacheFrom(ctx context.Context) *query.Cache {
	cache, _ := ctx.Value(cacheKey).(*query.Cache)
	return cache
}

// Gate is the bearer-token auth gate. Requests it rejects never reach the
// layers nested inside it, so the realtime scope is only ever acquired for
// authorized requests. Its failure mode is a redirect (or 401 for API
// clients), never a panic.
type Gate struct {
	log      *zap.Logger
	loginURL string

	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewGate builds a gate from the auth configuration. With no tokens the gate
// admits everything.
func NewGate(cfg config.Auth, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{log: log, loginURL: cfg.LoginURL}
	g.UpdateTokens(cfg.Tokens)
	return g
}

// UpdateTokens swaps the accepted token set, used by config hot reload.
func (g *Gate) UpdateTokens(tokens []string) {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if token != "" {
			set[token] = struct{}{}
		}
	}
	g.mu.Lock()
	g.tokens = set
	g.mu.Unlock()
}

// Middleware rejects unauthorized requests before the wrapped handler runs.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.allow(r) {
			next.ServeHTTP(w, r)
			return
		}
		if wantsHTML(r) {
			http.Redirect(w, r, g.loginURL, http.StatusSeeOther)
			return
		}
		writeError(w, http.StatusUnauthorized, "authentication required")
	})
}

func (g *Gate) allow(r *http.Request) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.tokens) == 0 {
		return true
	}

	token := bearerToken(r)
	if token == "" {
		// WebSocket clients cannot set headers from a browser.
		token = r.URL.Query().Get("token")
	}
	_, ok := g.tokens[token]
	return ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
