// Package guard authenticates bearer tokens on protected routes. Routes
// are declared in a table of Rules; the pattern syntax is that of
// net/http.ServeMux.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alexjbarnes/oauthd/internal/credentials"
	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store"
	"github.com/alexjbarnes/oauthd/internal/tokens"
)

// AccessTokenVerifier verifies OAuth access tokens.
type AccessTokenVerifier interface {
	VerifyAccessToken(signed string) (*tokens.Claims, error)
}

// SessionTokenVerifier verifies first-party session tokens.
type SessionTokenVerifier interface {
	Verify(signed string) (*tokens.SessionClaims, error)
}

// TokenLookup finds persisted OAuth tokens by access token hash.
type TokenLookup interface {
	FindByAccessHash(ctx context.Context, hash string) (*models.OAuthToken, error)
}

// AuthMode selects which token kinds a route accepts.
type AuthMode int

const (
	Any AuthMode = iota
	SessionOnly
	OAuthOnly
)

func (m AuthMode) String() string {
	switch m {
	case SessionOnly:
		return "session-only"
	case OAuthOnly:
		return "oauth-only"
	default:
		return "any"
	}
}

// Rule protects the routes matching Pattern. Scope applies to OAuth
// tokens only; session tokens are not scope limited.
type Rule struct {
	Pattern string
	Auth    AuthMode
	Scope   string
}

// Kind says how a request was authenticated.
type Kind string

const (
	KindSession Kind = "session"
	KindOAuth   Kind = "oauth"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Kind      Kind
	UserID    string
	ClientID  string
	Scopes    []string
	TokenID   string
	SessionID string
}

type contextKey int

const (
	ctxIdentity contextKey = iota
	ctxRemoteIP
)

// Principal returns the authenticated identity from the context.
func Principal(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxIdentity).(*Identity)
	return id, ok && id != nil
}

// WithPrincipal returns a copy of ctx carrying id.
func WithPrincipal(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

// RemoteIP returns the client IP recorded by the guard, or "".
func RemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// Guard verifies bearer tokens against both verifiers. A token must be
// accepted by exactly one of them; the choice never depends on
// unverified claims.
type Guard struct {
	oauth   AccessTokenVerifier
	session SessionTokenVerifier
	tokens  TokenLookup
	logger  *slog.Logger
	realm   string
	now     func() time.Time
}

// New creates a Guard. realm is reported in WWW-Authenticate challenges.
func New(oauth AccessTokenVerifier, session SessionTokenVerifier, lookup TokenLookup, logger *slog.Logger, realm string) *Guard {
	return &Guard{
		oauth:   oauth,
		session: session,
		tokens:  lookup,
		logger:  logger,
		realm:   realm,
		now:     time.Now,
	}
}

// Authenticate resolves a raw bearer token to an Identity. It returns
// ErrInvalidToken when neither verifier accepts the token,
// ErrAmbiguousToken when both do, and a wrapped store error when the
// token store cannot be consulted.
func (g *Guard) Authenticate(ctx context.Context, raw string) (*Identity, error) {
	oc, oerr := g.oauth.VerifyAccessToken(raw)
	sc, serr := g.session.Verify(raw)

	switch {
	case oerr == nil && serr == nil:
		return nil, oerrors.ErrAmbiguousToken
	case oerr == nil:
		return g.oauthIdentity(ctx, raw, oc)
	case serr == nil:
		return &Identity{
			Kind:      KindSession,
			UserID:    sc.Subject,
			SessionID: sc.SessionID,
		}, nil
	default:
		return nil, oerrors.ErrInvalidToken
	}
}

// oauthIdentity checks the persisted row so that revocation takes
// effect before the JWT expires.
func (g *Guard) oauthIdentity(ctx context.Context, raw string, claims *tokens.Claims) (*Identity, error) {
	row, err := g.tokens.FindByAccessHash(ctx, credentials.HashToken(raw))
	if errors.Is(err, store.ErrTokenNotFound) {
		return nil, fmt.Errorf("%w: unknown token", oerrors.ErrInvalidToken)
	}

	if err != nil {
		return nil, fmt.Errorf("looking up access token: %w", err)
	}

	if !row.Active(g.now()) || row.ID != claims.ID {
		return nil, fmt.Errorf("%w: revoked or expired", oerrors.ErrInvalidToken)
	}

	return &Identity{
		Kind:     KindOAuth,
		UserID:   row.UserID,
		ClientID: row.ClientID,
		Scopes:   row.Scopes,
		TokenID:  row.ID,
	}, nil
}

// Authorize checks an authenticated identity against a rule. It returns
// nil or a Forbidden OAuthError.
func Authorize(id *Identity, rule Rule) *oerrors.OAuthError {
	switch {
	case rule.Auth == SessionOnly && id.Kind != KindSession:
		return oerrors.AccessDenied("OAuth tokens are not accepted on this endpoint")
	case rule.Auth == OAuthOnly && id.Kind != KindOAuth:
		return oerrors.AccessDenied("session tokens are not accepted on this endpoint")
	}

	if id.Kind == KindOAuth && !scopes.Satisfies(rule.Scope, id.Scopes) {
		return &oerrors.OAuthError{
			Kind:        oerrors.KindForbidden,
			Code:        "insufficient_scope",
			Description: fmt.Sprintf("scope %q is required", rule.Scope),
		}
	}

	return nil
}

// Middleware returns HTTP middleware enforcing rules. Requests that match
// no rule pass through unauthenticated. Like http.ServeMux.Handle, it
// panics on invalid or conflicting patterns.
func (g *Guard) Middleware(rules []Rule) func(http.Handler) http.Handler {
	table := http.NewServeMux()
	byPattern := make(map[string]Rule, len(rules))

	for _, rule := range rules {
		table.Handle(rule.Pattern, http.NotFoundHandler())
		byPattern[rule.Pattern] = rule
	}

	// RFC 6750 Section 3.1: no error attribute when no token was provided.
	wwwAuthNoToken := fmt.Sprintf(`Bearer realm=%q`, g.realm)
	wwwAuthInvalid := fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, g.realm)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, pattern := table.Handler(r)

			rule, protected := byPattern[pattern]
			if !protected {
				next.ServeHTTP(w, r)
				return
			}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			raw, ok := bearerToken(r)
			if !ok {
				g.logger.Debug("guard: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthNoToken)
				writeError(w, http.StatusUnauthorized, "invalid_request", "bearer token required")

				return
			}

			id, err := g.Authenticate(r.Context(), raw)
			if err != nil {
				if !errors.Is(err, oerrors.ErrInvalidToken) && !errors.Is(err, oerrors.ErrAmbiguousToken) {
					g.logger.Error("guard: token lookup failed",
						slog.String("ip", ip),
						slog.String("error", err.Error()),
					)
					writeError(w, http.StatusInternalServerError, oerrors.CodeServerError, "internal server error")

					return
				}

				g.logger.Warn("guard: rejected bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Error()),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")

				return
			}

			if oe := Authorize(id, rule); oe != nil {
				g.logger.Warn("guard: forbidden",
					slog.String("kind", string(id.Kind)),
					slog.String("client_id", id.ClientID),
					slog.String("route", rule.Pattern),
					slog.String("auth", rule.Auth.String()),
					slog.String("ip", ip),
				)

				if oe.Code == "insufficient_scope" {
					w.Header().Set("WWW-Authenticate",
						fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope", scope=%q`, g.realm, rule.Scope))
				}

				writeError(w, oe.HTTPStatus(), oe.Code, oe.Description)

				return
			}

			ctx := WithPrincipal(r.Context(), id)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")

	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
