package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/oauthd/internal/credentials"
	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type markers carried in the "typ" claim. They keep OAuth access
// tokens and platform session tokens from being accepted in each
// other's place.
const (
	TypeOAuth   = "oauth"
	TypeSession = "session"
)

const (
	// DefaultAccessTokenTTL is the access token lifetime when none is configured.
	DefaultAccessTokenTTL = time.Hour

	refreshTokenBytes = 32
)

// Claims are the access token claims.
type Claims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	Type     string `json:"typ"`
}

// Scopes splits the space-separated scope claim.
func (c *Claims) Scopes() []string {
	return scopes.Split(c.Scope)
}

// Config holds the issuer settings.
type Config struct {
	Issuer         string
	Audience       string
	AccessTokenTTL time.Duration
}

// Issuer signs and verifies OAuth access tokens and mints opaque refresh
// tokens. It is stateless; persistence of issued tokens is the caller's job.
type Issuer struct {
	keys     *Keys
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer creates an Issuer. A non-positive AccessTokenTTL selects
// DefaultAccessTokenTTL.
func NewIssuer(keys *Keys, cfg Config) *Issuer {
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	return &Issuer{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// AccessTokenTTL returns the lifetime of issued access tokens.
func (i *Issuer) AccessTokenTTL() time.Duration {
	return i.ttl
}

// Keys returns the signing material, for publishing the JWKS.
func (i *Issuer) Keys() *Keys {
	return i.keys
}

// IssueAccessToken signs an access token for subject. For user grants
// the subject is the user id; for client_credentials it is the client id.
func (i *Issuer) IssueAccessToken(subject, clientID string, granted []string) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("access token subject is required")
	}

	now := i.now().Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		Scope:    scopes.Join(granted),
		ClientID: clientID,
		Type:     TypeOAuth,
	}

	signed, err := i.keys.sign(claims)
	if err != nil {
		return "", nil, fmt.Errorf("signing access token: %w", err)
	}

	return signed, claims, nil
}

// IssueRefreshToken returns an opaque random refresh token. It is never
// signed and is only valid while its hash is present in the token store.
func (i *Issuer) IssueRefreshToken() (string, error) {
	return credentials.RandomToken(refreshTokenBytes)
}

// VerifyAccessToken checks signature, algorithm, issuer, audience,
// expiry and the OAuth type marker. Errors wrap ErrInvalidToken or
// ErrWrongTokenType.
func (i *Issuer) VerifyAccessToken(signed string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(signed, claims, i.keys.keyFunc,
		jwt.WithValidMethods([]string{i.keys.Algorithm()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", oerrors.ErrInvalidToken, err)
	}

	if claims.Type != TypeOAuth {
		return nil, oerrors.ErrWrongTokenType
	}

	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or jti", oerrors.ErrInvalidToken)
	}

	return claims, nil
}
