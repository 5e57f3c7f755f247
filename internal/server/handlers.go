package server

import (
	"log/slog"
	"net/http"

	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/guard"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/oauth"
	"github.com/alexjbarnes/oauthd/internal/scopes"
)

type handlers struct {
	svc    *oauth.Service
	logger *slog.Logger
}

type scopesResponse struct {
	Scopes []models.ScopeDefinition `json:"scopes"`
}

type revokeResponse struct {
	Message string `json:"message"`
}

type userinfoResponse struct {
	Sub      string   `json:"sub"`
	ClientID string   `json:"client_id"`
	Scope    string   `json:"scope"`
	Scopes   []string `json:"scopes"`
}

// authorize issues a code for the session user. The session guard has
// already authenticated the request.
func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	id, ok := guard.Principal(r.Context())
	if !ok {
		writeOAuthError(w, oerrors.AccessDenied("an authenticated user session is required"))
		return
	}

	q := r.URL.Query()
	req := oauth.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	resp, err := h.svc.Authorize(r.Context(), req, id.UserID)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) token(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeParamsError(w, err)
		return
	}

	req := oauth.TokenRequest{
		GrantType:    p.get("grant_type"),
		ClientID:     p.get("client_id"),
		ClientSecret: p.get("client_secret"),
		Code:         p.get("code"),
		RedirectURI:  p.get("redirect_uri"),
		CodeVerifier: p.get("code_verifier"),
		RefreshToken: p.get("refresh_token"),
		Scope:        p.get("scope"),
	}

	req.ClientID, req.ClientSecret, err = clientCredentials(r, req.ClientID, req.ClientSecret)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	resp, err := h.svc.Token(r.Context(), req)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	// RFC 6749 Section 5.1.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) revoke(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeParamsError(w, err)
		return
	}

	err = h.svc.Revoke(r.Context(), oauth.RevokeRequest{
		Token:         p.get("token"),
		TokenTypeHint: p.get("token_type_hint"),
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, revokeResponse{Message: "token revoked"})
}

func (h *handlers) introspect(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeParamsError(w, err)
		return
	}

	clientID, secret, err := clientCredentials(r, p.get("client_id"), p.get("client_secret"))
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	resp, err := h.svc.Introspect(r.Context(), oauth.IntrospectRequest{
		Token:         p.get("token"),
		TokenTypeHint: p.get("token_type_hint"),
		ClientID:      clientID,
		ClientSecret:  secret,
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// clientCredentials merges HTTP Basic credentials with those from the
// body. RFC 6749 Section 2.3 allows one authentication method per request.
func clientCredentials(r *http.Request, bodyID, bodySecret string) (string, string, error) {
	basicID, basicSecret, hasBasic, err := basicCredentials(r)
	if err != nil {
		return "", "", oerrors.InvalidRequest("malformed Authorization header")
	}

	if !hasBasic {
		return bodyID, bodySecret, nil
	}

	if bodySecret != "" || (bodyID != "" && bodyID != basicID) {
		return "", "", oerrors.InvalidRequest("client credentials must be sent by one method only")
	}

	return basicID, basicSecret, nil
}

func (h *handlers) scopes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scopesResponse{Scopes: h.svc.Scopes()})
}

func (h *handlers) userinfo(w http.ResponseWriter, r *http.Request) {
	id, ok := guard.Principal(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
		return
	}

	sub := id.UserID
	if sub == "" {
		sub = id.ClientID
	}

	h.logger.Debug("userinfo",
		slog.String("sub", sub),
		slog.String("client_id", id.ClientID),
		slog.String("ip", guard.RemoteIP(r.Context())),
	)

	writeJSON(w, http.StatusOK, userinfoResponse{
		Sub:      sub,
		ClientID: id.ClientID,
		Scope:    scopes.Join(id.Scopes),
		Scopes:   id.Scopes,
	})
}
