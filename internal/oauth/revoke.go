package oauth

import (
	"context"
	"errors"

	"github.com/alexjbarnes/oauthd/internal/audit"
	"github.com/alexjbarnes/oauthd/internal/credentials"
	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store"
)

// Token type hints (RFC 7009 Section 2.1).
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// RevokeRequest is the revocation endpoint body.
type RevokeRequest struct {
	Token         string
	TokenTypeHint string
}

// IntrospectRequest is the introspection endpoint body. Client
// credentials are optional; when ClientID is set the caller must
// authenticate as an active confidential application.
type IntrospectRequest struct {
	Token         string
	TokenTypeHint string
	ClientID      string
	ClientSecret  string
}

// IntrospectResponse is the RFC 7662 Section 2.2 body. For inactive
// tokens every field except Active is zero and omitted.
type IntrospectResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
}

// Revoke marks the token revoked. Unknown and already revoked tokens
// succeed silently so the endpoint cannot be used to probe for tokens.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) error {
	if req.Token == "" {
		return oerrors.InvalidRequest("token is required")
	}

	s.metrics.Revocation()

	tok, _, err := s.lookup(ctx, req.Token, req.TokenTypeHint)
	if err != nil {
		s.logFailure(ctx, "revoke failed", "", err)
		return err
	}

	if tok == nil || tok.Revoked {
		return nil
	}

	if err := s.tokens.RevokeToken(ctx, tok.ID, s.now()); err != nil && !errors.Is(err, store.ErrTokenNotFound) {
		err = oerrors.Internal(err)
		s.logFailure(ctx, "revoke failed", tok.ClientID, err)

		return err
	}

	s.record(ctx, audit.Event{
		Type:     audit.TokenRevoked,
		ClientID: tok.ClientID,
		UserID:   tok.UserID,
		TokenID:  tok.ID,
	})

	return nil
}

// Introspect reports whether a token is active. Missing, revoked and
// expired tokens all yield the same bare {active: false} response.
func (s *Service) Introspect(ctx context.Context, req IntrospectRequest) (*IntrospectResponse, error) {
	if req.Token == "" {
		return nil, oerrors.InvalidRequest("token is required")
	}

	if req.ClientID != "" || req.ClientSecret != "" {
		if err := s.authenticateCaller(ctx, req.ClientID, req.ClientSecret); err != nil {
			s.logFailure(ctx, "introspect caller rejected", req.ClientID, err)
			return nil, err
		}
	}

	tok, kind, err := s.lookup(ctx, req.Token, req.TokenTypeHint)
	if err != nil {
		s.logFailure(ctx, "introspect failed", req.ClientID, err)
		return nil, err
	}

	resp := s.introspection(req.Token, tok, kind)
	s.metrics.Introspection(resp.Active)

	return resp, nil
}

func (s *Service) introspection(raw string, tok *models.OAuthToken, kind string) *IntrospectResponse {
	inactive := &IntrospectResponse{Active: false}

	if tok == nil {
		return inactive
	}

	now := s.now()

	resp := &IntrospectResponse{
		Active:   true,
		Scope:    scopes.Join(tok.Scopes),
		ClientID: tok.ClientID,
		Username: tok.UserID,
		Iat:      tok.IssuedAt.Unix(),
		Sub:      tok.UserID,
	}

	if resp.Sub == "" {
		resp.Sub = tok.ClientID
	}

	switch kind {
	case HintAccessToken:
		if !tok.Active(now) {
			return inactive
		}

		// The row may outlive a key rotation; the signature must still hold.
		if _, err := s.issuer.VerifyAccessToken(raw); err != nil {
			return inactive
		}

		resp.TokenType = "Bearer"
		resp.Exp = tok.ExpiresAt.Unix()
	case HintRefreshToken:
		if !tok.RefreshActive(now) {
			return inactive
		}

		resp.TokenType = HintRefreshToken
		resp.Exp = tok.RefreshExpiresAt.Unix()
	default:
		return inactive
	}

	return resp
}

// lookup finds the token row for raw, trying the access hash first
// unless hint names a refresh token. It returns the row and which kind
// of token raw turned out to be. A nil row with nil error means unknown.
func (s *Service) lookup(ctx context.Context, raw, hint string) (*models.OAuthToken, string, error) {
	hash := credentials.HashToken(raw)

	order := []string{HintAccessToken, HintRefreshToken}
	if hint == HintRefreshToken {
		order = []string{HintRefreshToken, HintAccessToken}
	}

	for _, kind := range order {
		var (
			tok *models.OAuthToken
			err error
		)

		if kind == HintAccessToken {
			tok, err = s.tokens.FindByAccessHash(ctx, hash)
		} else {
			tok, err = s.tokens.FindByRefreshHash(ctx, hash)
		}

		if errors.Is(err, store.ErrTokenNotFound) {
			continue
		}

		if err != nil {
			return nil, "", oerrors.Internal(err)
		}

		return tok, kind, nil
	}

	return nil, "", nil
}

// authenticateCaller checks the credentials of a resource server calling
// introspection.
func (s *Service) authenticateCaller(ctx context.Context, clientID, secret string) error {
	if clientID == "" || secret == "" {
		return oerrors.InvalidClient("client authentication failed")
	}

	app, err := s.tokenClient(ctx, clientID)
	if err != nil {
		return err
	}

	if !app.IsConfidential() || !credentials.VerifySecret(secret, app.ClientSecretHash) {
		return oerrors.InvalidClient("client authentication failed")
	}

	return nil
}
