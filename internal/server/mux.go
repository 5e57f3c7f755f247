// Package server exposes the OAuth service over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/oauthd/internal/guard"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/oauth"
	"github.com/alexjbarnes/oauthd/internal/tokens"
)

// Pinger is a backend the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Service *oauth.Service
	Guard   *guard.Guard
	Keys    *tokens.Keys
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Issuer is the public base URL advertised in metadata.
	Issuer string
	// Backends are probed by /healthz, keyed by name.
	Backends map[string]Pinger
}

// Routes lists the authenticated routes. Everything else is public.
var Routes = []guard.Rule{
	{Pattern: "GET /oauth/authorize", Auth: guard.SessionOnly},
	{Pattern: "GET /oauth/userinfo", Auth: guard.OAuthOnly, Scope: "read:user"},
}

// NewMux builds the HTTP handler with discovery, authorization, token,
// revocation, introspection, health and metrics endpoints. Routes in
// Routes are wrapped by the bearer guard.
func NewMux(cfg MuxConfig) http.Handler {
	h := &handlers{
		svc:    cfg.Service,
		logger: cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", HandleServerMetadata(cfg.Issuer, cfg.Service.Scopes()))
	mux.HandleFunc("GET /.well-known/jwks.json", HandleJWKS(cfg.Keys))
	mux.HandleFunc("GET /oauth/authorize", h.authorize)
	mux.HandleFunc("POST /oauth/token", h.token)
	mux.HandleFunc("POST /oauth/revoke", h.revoke)
	mux.HandleFunc("POST /oauth/introspect", h.introspect)
	mux.HandleFunc("GET /oauth/scopes", h.scopes)
	mux.HandleFunc("GET /oauth/userinfo", h.userinfo)
	mux.HandleFunc("GET /healthz", HandleHealth(cfg.Backends, cfg.Logger))
	mux.Handle("GET /metrics", cfg.Metrics.Handler())

	return cfg.Guard.Middleware(Routes)(mux)
}
