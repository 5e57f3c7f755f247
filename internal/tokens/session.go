package tokens

import (
	"errors"
	"fmt"
	"time"

	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims of a platform session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	Type      string `json:"typ"`
}

// SessionVerifier verifies the platform's first-party session tokens
// (HS256 with the session secret).
type SessionVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewSessionVerifier creates a verifier for session tokens signed with secret.
func NewSessionVerifier(secret []byte) (*SessionVerifier, error) {
	if len(secret) < MinHMACSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinHMACSecretLength)
	}

	return &SessionVerifier{secret: secret, now: time.Now}, nil
}

// Verify checks a session token and returns its claims.
func (v *SessionVerifier) Verify(signed string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	_, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", oerrors.ErrInvalidToken, err)
	}

	if claims.Type != TypeSession {
		return nil, oerrors.ErrWrongTokenType
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", oerrors.ErrInvalidToken)
	}

	return claims, nil
}

// Sign mints a session token for userID. Sessions are normally issued by
// the platform's login flow; this exists for local tooling.
func (v *SessionVerifier) Sign(userID, sessionID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("session subject is required")
	}

	now := v.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionID: sessionID,
		Type:      TypeSession,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
