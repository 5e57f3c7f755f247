// Package oauth implements the authorization server operations:
// authorize, token, revoke and introspect. Transport concerns live in
// internal/server; this package only sees plain request structs.
package oauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/alexjbarnes/oauthd/internal/audit"
	"github.com/alexjbarnes/oauthd/internal/codestore"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store"
	"github.com/alexjbarnes/oauthd/internal/tokens"
)

// Grant types accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// DefaultRefreshTokenTTL is the refresh token lifetime when none is configured.
const DefaultRefreshTokenTTL = 30 * 24 * time.Hour

// Deps are the collaborators of a Service. Audit and Metrics may be nil.
type Deps struct {
	Apps     store.ApplicationStore
	Tokens   store.TokenStore
	Codes    *codestore.Store
	Issuer   *tokens.Issuer
	Registry *scopes.Registry
	Audit    audit.Sink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Config holds service settings.
type Config struct {
	RefreshTokenTTL time.Duration
}

// Service orchestrates the OAuth flows. It holds no mutable state of its
// own; all state lives in the code cache and the token store.
type Service struct {
	apps       store.ApplicationStore
	tokens     store.TokenStore
	codes      *codestore.Store
	issuer     *tokens.Issuer
	registry   *scopes.Registry
	audit      audit.Sink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService wires a Service from its dependencies.
func NewService(d Deps, cfg Config) *Service {
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	sink := d.Audit
	if sink == nil {
		sink = audit.Nop{}
	}

	return &Service{
		apps:       d.Apps,
		tokens:     d.Tokens,
		codes:      d.Codes,
		issuer:     d.Issuer,
		registry:   d.Registry,
		audit:      sink,
		metrics:    d.Metrics,
		logger:     d.Logger,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Scopes returns the full scope catalogue.
func (s *Service) Scopes() []models.ScopeDefinition {
	return s.registry.All()
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if e.Time.IsZero() {
		e.Time = s.now().UTC()
	}

	s.audit.Record(ctx, e)
}
