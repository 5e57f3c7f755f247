package oauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/oauthd/internal/audit"
	"github.com/alexjbarnes/oauthd/internal/codestore"
	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store"
)

// AuthorizeRequest carries the authorization endpoint parameters
// (RFC 6749 Section 4.1.1, RFC 7636 Section 4.3).
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResponse is returned to the already authenticated user agent.
// State is echoed verbatim.
type AuthorizeResponse struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// Authorize issues an authorization code for userID to the requesting
// application.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest, userID string) (*AuthorizeResponse, error) {
	resp, err := s.authorize(ctx, req, userID)
	s.metrics.Authorization(err == nil)

	if err != nil {
		s.logFailure(ctx, "authorize rejected", req.ClientID, err)
		return nil, err
	}

	return resp, nil
}

func (s *Service) authorize(ctx context.Context, req AuthorizeRequest, userID string) (*AuthorizeResponse, error) {
	if userID == "" {
		return nil, oerrors.AccessDenied("an authenticated user is required")
	}

	switch req.ResponseType {
	case "":
		return nil, oerrors.InvalidRequest("response_type is required")
	case "code":
	default:
		return nil, oerrors.UnsupportedResponseType(req.ResponseType)
	}

	if req.ClientID == "" {
		return nil, oerrors.InvalidRequest("client_id is required")
	}

	app, err := s.apps.GetApplication(ctx, req.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oerrors.NotFound("unknown client_id")
	}

	if err != nil {
		return nil, oerrors.Internal(err)
	}

	if !app.Status.CanIssueTokens() {
		return nil, oerrors.UnauthorizedClient("application is not active")
	}

	if req.RedirectURI == "" {
		return nil, oerrors.InvalidRequest("redirect_uri is required")
	}

	if !app.HasRedirectURI(req.RedirectURI) {
		return nil, oerrors.InvalidRequest("redirect_uri is not registered for this application")
	}

	granted, err := s.grantScopes(req.Scope, app)
	if err != nil {
		return nil, err
	}

	method, err := challengeMethod(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return nil, err
	}

	if req.CodeChallenge == "" && !app.IsConfidential() {
		return nil, oerrors.InvalidRequest("code_challenge is required for public clients")
	}

	code, err := s.codes.Issue(ctx, codestore.IssueParams{
		ClientID:            app.ClientID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scopes:              granted,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
	})
	if err != nil {
		return nil, oerrors.Internal(err)
	}

	s.record(ctx, audit.Event{
		Type:     audit.CodeIssued,
		ClientID: app.ClientID,
		UserID:   userID,
		Scopes:   granted,
	})

	return &AuthorizeResponse{Code: code, State: req.State}, nil
}

// grantScopes resolves the scope parameter against the registry and the
// application's ceiling. An empty request selects the registry defaults
// the application is allowed. Any unknown or disallowed scope rejects
// the whole request.
func (s *Service) grantScopes(param string, app *models.Application) ([]string, error) {
	requested := scopes.Split(param)

	if len(requested) == 0 {
		granted, _ := s.registry.Clip(s.registry.Defaults(), app.Scopes)
		if len(granted) == 0 {
			return nil, oerrors.InvalidScope("no default scopes are available to this application")
		}

		return granted, nil
	}

	v := s.registry.Validate(requested)
	if !v.OK() {
		return nil, oerrors.InvalidScope("unknown scope: " + strings.Join(v.Invalid, " "))
	}

	granted, rejected := s.registry.Clip(v.Valid, app.Scopes)
	if len(rejected) > 0 {
		return nil, oerrors.InvalidScope("scope not allowed for this application: " + strings.Join(rejected, " "))
	}

	return granted, nil
}

// challengeMethod validates the PKCE parameters and returns the
// effective method. A challenge without a method means plain.
func challengeMethod(challenge, method string) (string, error) {
	if challenge == "" {
		if method != "" {
			return "", oerrors.InvalidRequest("code_challenge_method given without code_challenge")
		}

		return "", nil
	}

	if method == "" {
		method = MethodPlain
	}

	if method != MethodS256 && method != MethodPlain {
		return "", oerrors.InvalidRequest("unsupported code_challenge_method")
	}

	if !validPKCEString(challenge) {
		return "", oerrors.InvalidRequest("malformed code_challenge")
	}

	return method, nil
}

// logFailure logs a rejected request. Backend failures log at error,
// client mistakes at warn.
func (s *Service) logFailure(ctx context.Context, msg, clientID string, err error) {
	oe := oerrors.As(err)

	level := slog.LevelWarn
	if oe.Kind == oerrors.KindInternal {
		level = slog.LevelError
	}

	s.logger.LogAttrs(ctx, level, msg,
		slog.String("client_id", clientID),
		slog.String("error", oe.Code),
		slog.String("detail", err.Error()),
	)
}
