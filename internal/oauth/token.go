package oauth

import (
	"context"
	"errors"
	"strings"

	"github.com/alexjbarnes/oauthd/internal/audit"
	"github.com/alexjbarnes/oauthd/internal/codestore"
	"github.com/alexjbarnes/oauthd/internal/credentials"
	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store"
)

// TokenRequest carries the token endpoint parameters for every grant.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// TokenResponse is the RFC 6749 Section 5.1 success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// Token exchanges a grant for tokens. A failed exchange persists nothing;
// an authorization code is consumed even when the exchange fails.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	var (
		resp *TokenResponse
		err  error
	)

	switch req.GrantType {
	case "":
		err = oerrors.InvalidRequest("grant_type is required")
	case GrantAuthorizationCode:
		resp, err = s.exchangeCode(ctx, req)
	case GrantRefreshToken:
		resp, err = s.refresh(ctx, req)
	case GrantClientCredentials:
		resp, err = s.clientCredentials(ctx, req)
	default:
		err = oerrors.UnsupportedGrantType(req.GrantType)
	}

	s.metrics.Grant(req.GrantType, err == nil)

	if err != nil {
		s.logFailure(ctx, "token request rejected", req.ClientID, err)
		s.record(ctx, audit.Event{
			Type:      audit.GrantFailed,
			ClientID:  req.ClientID,
			GrantType: req.GrantType,
			Reason:    oerrors.As(err).Code,
		})

		return nil, err
	}

	return resp, nil
}

func (s *Service) exchangeCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, oerrors.InvalidRequest("code is required")
	}

	if req.ClientID == "" {
		return nil, oerrors.InvalidRequest("client_id is required")
	}

	rec, err := s.codes.RedeemOnce(ctx, req.Code)
	if errors.Is(err, codestore.ErrCodeNotFound) {
		return nil, oerrors.InvalidGrant("authorization code is invalid, expired or already used")
	}

	if err != nil {
		return nil, oerrors.Internal(err)
	}

	if rec.ClientID != req.ClientID {
		return nil, oerrors.InvalidGrant("authorization code was issued to another client")
	}

	if rec.RedirectURI != req.RedirectURI {
		return nil, oerrors.InvalidGrant("redirect_uri does not match the authorization request")
	}

	app, err := s.tokenClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	if err := authenticateCodeExchange(app, rec, req); err != nil {
		return nil, err
	}

	resp, tok, err := s.newTokens(app, rec.UserID, rec.UserID, rec.Scopes, true)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.CreateToken(ctx, *tok); err != nil {
		return nil, oerrors.Internal(err)
	}

	s.record(ctx, audit.Event{
		Type:      audit.TokenIssued,
		ClientID:  app.ClientID,
		UserID:    rec.UserID,
		TokenID:   tok.ID,
		GrantType: GrantAuthorizationCode,
		Scopes:    tok.Scopes,
	})

	return resp, nil
}

// authenticateCodeExchange requires at least one of client-secret
// authentication or PKCE to succeed. A code issued with a challenge
// always requires a matching verifier, and a presented secret must
// always be correct.
func authenticateCodeExchange(app *models.Application, rec *models.AuthorizationCode, req TokenRequest) error {
	pkceOK := false

	if rec.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return oerrors.InvalidGrant("code_verifier is required")
		}

		if !verifyPKCE(rec.CodeChallengeMethod, req.CodeVerifier, rec.CodeChallenge) {
			return oerrors.InvalidGrant("PKCE verification failed")
		}

		pkceOK = true
	}

	secretOK := false

	if req.ClientSecret != "" {
		if !app.IsConfidential() || !credentials.VerifySecret(req.ClientSecret, app.ClientSecretHash) {
			return oerrors.InvalidClient("client authentication failed")
		}

		secretOK = true
	}

	if !pkceOK && !secretOK {
		return oerrors.InvalidClient("client authentication failed")
	}

	return nil
}

func (s *Service) refresh(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oerrors.InvalidRequest("refresh_token is required")
	}

	if req.ClientID == "" {
		return nil, oerrors.InvalidRequest("client_id is required")
	}

	oldHash := credentials.HashToken(req.RefreshToken)

	old, err := s.tokens.FindByRefreshHash(ctx, oldHash)
	if errors.Is(err, store.ErrTokenNotFound) {
		return nil, oerrors.InvalidGrant("refresh token is invalid or revoked")
	}

	if err != nil {
		return nil, oerrors.Internal(err)
	}

	if old.ClientID != req.ClientID {
		return nil, oerrors.InvalidGrant("refresh token was issued to another client")
	}

	if !old.RefreshActive(s.now()) {
		return nil, oerrors.InvalidGrant("refresh token is invalid or revoked")
	}

	app, err := s.tokenClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	if app.IsConfidential() && !credentials.VerifySecret(req.ClientSecret, app.ClientSecretHash) {
		return nil, oerrors.InvalidClient("client authentication failed")
	}

	granted := old.Scopes

	if req.Scope != "" {
		requested := s.registry.Validate(scopes.Split(req.Scope))
		if !requested.OK() || !scopes.IsSubset(requested.Valid, old.Scopes) {
			return nil, oerrors.InvalidScope("requested scope exceeds the original grant")
		}

		granted = requested.Valid
	}

	// The application's ceiling may have shrunk since the original grant.
	granted, _ = s.registry.Clip(granted, app.Scopes)
	if len(granted) == 0 {
		return nil, oerrors.InvalidScope("no granted scope is still allowed for this application")
	}

	resp, next, err := s.newTokens(app, old.UserID, old.UserID, granted, true)
	if err != nil {
		return nil, err
	}

	err = s.tokens.Rotate(ctx, oldHash, *next, s.now())
	if errors.Is(err, store.ErrTokenNotFound) {
		return nil, oerrors.InvalidGrant("refresh token is invalid or revoked")
	}

	if err != nil {
		return nil, oerrors.Internal(err)
	}

	s.record(ctx, audit.Event{
		Type:      audit.TokenRefreshed,
		ClientID:  app.ClientID,
		UserID:    old.UserID,
		TokenID:   next.ID,
		GrantType: GrantRefreshToken,
		Scopes:    next.Scopes,
	})

	return resp, nil
}

func (s *Service) clientCredentials(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.ClientID == "" {
		return nil, oerrors.InvalidRequest("client_id is required")
	}

	if req.ClientSecret == "" {
		return nil, oerrors.InvalidClient("client authentication failed")
	}

	app, err := s.tokenClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	if !app.IsConfidential() {
		return nil, oerrors.UnauthorizedClient("public clients cannot use client_credentials")
	}

	if !credentials.VerifySecret(req.ClientSecret, app.ClientSecretHash) {
		return nil, oerrors.InvalidClient("client authentication failed")
	}

	granted := app.Scopes

	if req.Scope != "" {
		var rejected []string

		granted, rejected = s.registry.Clip(scopes.Split(req.Scope), app.Scopes)
		if len(rejected) > 0 {
			return nil, oerrors.InvalidScope("scope not allowed for this application: " + strings.Join(rejected, " "))
		}
	}

	if len(granted) == 0 {
		return nil, oerrors.InvalidScope("no scope is available to this application")
	}

	// The client acts on its own behalf: it is the subject and there is
	// no user. No refresh token is issued.
	resp, tok, err := s.newTokens(app, app.ClientID, "", granted, false)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.CreateToken(ctx, *tok); err != nil {
		return nil, oerrors.Internal(err)
	}

	s.record(ctx, audit.Event{
		Type:      audit.TokenIssued,
		ClientID:  app.ClientID,
		TokenID:   tok.ID,
		GrantType: GrantClientCredentials,
		Scopes:    tok.Scopes,
	})

	return resp, nil
}

// tokenClient loads an application for the token endpoint. Unknown
// clients are reported as invalid_client, inactive ones as
// unauthorized_client.
func (s *Service) tokenClient(ctx context.Context, clientID string) (*models.Application, error) {
	app, err := s.apps.GetApplication(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oerrors.InvalidClient("client authentication failed")
	}

	if err != nil {
		return nil, oerrors.Internal(err)
	}

	if !app.Status.CanIssueTokens() {
		return nil, oerrors.UnauthorizedClient("application is not active")
	}

	return app, nil
}

// newTokens signs an access token and, when withRefresh is set, mints a
// refresh token. The returned record holds only hashes and is not yet
// persisted.
func (s *Service) newTokens(app *models.Application, subject, userID string, granted []string, withRefresh bool) (*TokenResponse, *models.OAuthToken, error) {
	access, claims, err := s.issuer.IssueAccessToken(subject, app.ClientID, granted)
	if err != nil {
		return nil, nil, oerrors.Internal(err)
	}

	now := s.now().UTC()
	tok := &models.OAuthToken{
		ID:              claims.ID,
		AccessTokenHash: credentials.HashToken(access),
		UserID:          userID,
		ClientID:        app.ClientID,
		Scopes:          granted,
		IssuedAt:        claims.IssuedAt.UTC(),
		ExpiresAt:       claims.ExpiresAt.UTC(),
	}

	resp := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.issuer.AccessTokenTTL().Seconds()),
		Scope:       scopes.Join(granted),
	}

	if withRefresh {
		refresh, err := s.issuer.IssueRefreshToken()
		if err != nil {
			return nil, nil, oerrors.Internal(err)
		}

		tok.RefreshTokenHash = credentials.HashToken(refresh)
		tok.RefreshExpiresAt = now.Add(s.refreshTTL)
		resp.RefreshToken = refresh
	}

	return resp, tok, nil
}
