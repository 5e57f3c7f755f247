package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/oauthd/internal/codestore"
	"github.com/alexjbarnes/oauthd/internal/credentials"
	"github.com/alexjbarnes/oauthd/internal/guard"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/oauth"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store/bolt"
	"github.com/alexjbarnes/oauthd/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	issuerURL     = "https://auth.example.test"
	webClientID   = "web-app"
	webSecret     = "web-secret-0123456789abcdef"
	webRedirect   = "https://web.test/callback"
	spaClientID   = "spa"
	spaRedirect   = "http://localhost:8080/callback"
	workerID      = "worker"
	workerSecret  = "worker-secret-0123456789ab"
	sessionUserID = "user-7"
	signingSecret = "oauth-signing-secret-0123456789ab"
	sessionKey    = "session-signing-secret-0123456789"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	*httptest.Server
	sessions *tokens.SessionVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := bolt.Open(filepath.Join(t.TempDir(), "oauthd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hasher := credentials.NewHasher(bcrypt.MinCost)
	webHash, err := hasher.HashSecret(webSecret)
	require.NoError(t, err)
	workerHash, err := hasher.HashSecret(workerSecret)
	require.NoError(t, err)

	ctx := context.Background()
	for _, app := range []models.Application{
		{ClientID: webClientID, ClientSecretHash: webHash, Name: "Web", RedirectURIs: []string{webRedirect}, Scopes: []string{"read:user", "read:posts"}, Status: models.StatusActive},
		{ClientID: spaClientID, Name: "SPA", RedirectURIs: []string{spaRedirect}, Scopes: []string{"read:user"}, Status: models.StatusActive},
		{ClientID: workerID, ClientSecretHash: workerHash, Name: "Worker", RedirectURIs: []string{"https://worker.test/cb"}, Scopes: []string{"read:posts"}, Status: models.StatusActive},
	} {
		require.NoError(t, st.SaveApplication(ctx, app))
	}

	cache := codestore.NewMemoryCache()
	t.Cleanup(cache.Stop)
	codes := codestore.New(cache, time.Minute)

	keys, err := tokens.NewHMACKeys([]byte(signingSecret))
	require.NoError(t, err)
	issuer := tokens.NewIssuer(keys, tokens.Config{Issuer: issuerURL, Audience: issuerURL, AccessTokenTTL: time.Hour})

	sessions, err := tokens.NewSessionVerifier([]byte(sessionKey))
	require.NoError(t, err)

	registry, err := scopes.Default()
	require.NoError(t, err)

	m := metrics.New()
	svc := oauth.NewService(oauth.Deps{
		Apps:     st,
		Tokens:   st,
		Codes:    codes,
		Issuer:   issuer,
		Registry: registry,
		Metrics:  m,
		Logger:   logger,
	}, oauth.Config{})

	backends := map[string]Pinger{"store": st, "cache": codes}

	handler := NewMux(MuxConfig{
		Service:  svc,
		Guard:    guard.New(issuer, sessions, st, logger, "oauthd"),
		Keys:     keys,
		Metrics:  m,
		Logger:   logger,
		Issuer:   issuerURL,
		Backends: backends,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, sessions: sessions}
}

func (s *testServer) sessionToken(t *testing.T) string {
	t.Helper()
	tok, err := s.sessions.Sign(sessionUserID, "sess-1", time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) get(t *testing.T, path, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(s.URL+path, form)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(s.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// authorize runs the authorize step for client and returns the code.
func (s *testServer) authorize(t *testing.T, q url.Values) string {
	t.Helper()
	resp := s.get(t, "/oauth/authorize?"+q.Encode(), s.sessionToken(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body oauth.AuthorizeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Code)
	return body.Code
}

func webAuthorizeQuery() url.Values {
	return url.Values{
		"response_type": {"code"},
		"client_id":     {webClientID},
		"redirect_uri":  {webRedirect},
		"scope":         {"read:user"},
		"state":         {"st-1"},
	}
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestAuthorize_RequiresSession(t *testing.T) {
	s := newTestServer(t)
	path := "/oauth/authorize?" + webAuthorizeQuery().Encode()

	resp := s.get(t, path, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp = s.get(t, path, s.sessionToken(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.NotEmpty(t, body["code"])
	assert.Equal(t, "st-1", body["state"])
}

func TestAuthorize_OAuthTokenForbidden(t *testing.T) {
	s := newTestServer(t)
	tok := s.clientCredentials(t)

	resp := s.get(t, "/oauth/authorize?"+webAuthorizeQuery().Encode(), tok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "access_denied", decodeMap(t, resp)["error"])
}

func TestAuthorize_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name   string
		mutate func(url.Values)
		status int
		code   string
	}{
		{"unknown client", func(q url.Values) { q.Set("client_id", "nope") }, http.StatusNotFound, "not_found"},
		{"redirect mismatch", func(q url.Values) { q.Set("redirect_uri", "https://evil.test/cb") }, http.StatusBadRequest, "invalid_request"},
		{"bad response type", func(q url.Values) { q.Set("response_type", "token") }, http.StatusBadRequest, "unsupported_response_type"},
		{"bad scope", func(q url.Values) { q.Set("scope", "write:posts") }, http.StatusBadRequest, "invalid_scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := webAuthorizeQuery()
			tt.mutate(q)
			resp := s.get(t, "/oauth/authorize?"+q.Encode(), s.sessionToken(t))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeMap(t, resp)["error"])
		})
	}
}

func TestToken_FormWithSecretPost(t *testing.T) {
	s := newTestServer(t)
	code := s.authorize(t, webAuthorizeQuery())

	resp := s.postForm(t, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {webClientID},
		"client_secret": {webSecret},
		"code":          {code},
		"redirect_uri":  {webRedirect},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	body := decodeMap(t, resp)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "read:user", body["scope"])

	// Second redemption.
	resp = s.postForm(t, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {webClientID},
		"client_secret": {webSecret},
		"code":          {code},
		"redirect_uri":  {webRedirect},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_grant", decodeMap(t, resp)["error"])
}

func TestToken_JSONCamelCase(t *testing.T) {
	s := newTestServer(t)
	code := s.authorize(t, webAuthorizeQuery())

	body, err := json.Marshal(map[string]string{
		"grantType":    "authorization_code",
		"clientId":     webClientID,
		"clientSecret": webSecret,
		"code":         code,
		"redirectUri":  webRedirect,
	})
	require.NoError(t, err)

	resp := s.postJSON(t, "/oauth/token", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decodeMap(t, resp)["access_token"])
}

func TestToken_BasicAndBodyCredentialsConflict(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_secret": {workerSecret},
	}
	req, err := http.NewRequest(http.MethodPost, s.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(workerID, workerSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeMap(t, resp)["error"])
}

func TestToken_InvalidClientChallenge(t *testing.T) {
	s := newTestServer(t)
	resp := s.postForm(t, "/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {workerID},
		"client_secret": {"wrong"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
	assert.Equal(t, "invalid_client", decodeMap(t, resp)["error"])
}

func TestToken_RequestValidation(t *testing.T) {
	s := newTestServer(t)

	resp := s.postForm(t, "/oauth/token", url.Values{"grant_type": {"password"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unsupported_grant_type", decodeMap(t, resp)["error"])

	resp, err := http.Post(s.URL+"/oauth/token", "text/plain", strings.NewReader("grant_type=client_credentials"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = s.postJSON(t, "/oauth/token", `{"grant_type": 5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.postJSON(t, "/oauth/token", `{"grant_type":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := strings.Repeat("a", maxBodyBytes+1)
	resp = s.postForm(t, "/oauth/token", url.Values{"grant_type": {"client_credentials"}, "scope": {big}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err = http.Post(s.URL+"/oauth/token", "application/x-www-form-urlencoded",
		strings.NewReader("grant_type=client_credentials&grant_type=refresh_token"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToken_MissingContentType(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {workerID},
		"client_secret": {workerSecret},
	}

	req, err := http.NewRequest(http.MethodPost, s.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Del("Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeMap(t, resp)["error"])

	req, err = http.NewRequest(http.MethodPost, s.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestToken_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	resp := s.get(t, "/oauth/token", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// clientCredentials obtains a token for the worker with the
// clientcredentials package, which authenticates with HTTP Basic.
func (s *testServer) clientCredentials(t *testing.T) string {
	t.Helper()
	cfg := clientcredentials.Config{
		ClientID:     workerID,
		ClientSecret: workerSecret,
		TokenURL:     s.URL + "/oauth/token",
		Scopes:       []string{"read:posts"},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cfg.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok.RefreshToken)
	return tok.AccessToken
}

func TestClientCredentials_WithOAuth2Client(t *testing.T) {
	s := newTestServer(t)
	tok := s.clientCredentials(t)

	resp := s.postForm(t, "/oauth/introspect", url.Values{"token": {tok}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, workerID, body["sub"])
	assert.Equal(t, "read:posts", body["scope"])
}

func TestPKCEFlow_WithOAuth2Client(t *testing.T) {
	s := newTestServer(t)
	cfg := &oauth2.Config{
		ClientID:    spaClientID,
		RedirectURL: spaRedirect,
		Scopes:      []string{"read:user"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   s.URL + "/oauth/authorize",
			TokenURL:  s.URL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	verifier := oauth2.GenerateVerifier()
	authURL, err := url.Parse(cfg.AuthCodeURL("state-9", oauth2.S256ChallengeOption(verifier)))
	require.NoError(t, err)

	code := s.authorize(t, authURL.Query())

	tok, err := cfg.Exchange(context.Background(), code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEmpty(t, tok.RefreshToken)

	// The token works on an OAuth route.
	resp := s.get(t, "/oauth/userinfo", tok.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeMap(t, resp)
	assert.Equal(t, sessionUserID, info["sub"])
	assert.Equal(t, spaClientID, info["client_id"])

	// Refresh through the client library rotates the pair.
	expired := &oauth2.Token{RefreshToken: tok.RefreshToken, Expiry: time.Now().Add(-time.Minute)}
	fresh, err := cfg.TokenSource(context.Background(), expired).Token()
	require.NoError(t, err)
	assert.NotEqual(t, tok.AccessToken, fresh.AccessToken)
	assert.NotEqual(t, tok.RefreshToken, fresh.RefreshToken)

	resp = s.get(t, "/oauth/userinfo", tok.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUserinfo_ScopeAndKind(t *testing.T) {
	s := newTestServer(t)

	// Worker tokens carry read:posts only.
	resp := s.get(t, "/oauth/userinfo", s.clientCredentials(t))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "insufficient_scope", decodeMap(t, resp)["error"])

	resp = s.get(t, "/oauth/userinfo", s.sessionToken(t))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRevokeThenIntrospect(t *testing.T) {
	s := newTestServer(t)
	tok := s.clientCredentials(t)

	resp := s.postJSON(t, "/oauth/revoke", `{"token":"`+tok+`","tokenTypeHint":"access_token"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "token revoked", decodeMap(t, resp)["message"])

	// Unknown tokens are not distinguishable.
	resp = s.postForm(t, "/oauth/revoke", url.Values{"token": {"never-issued"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.postForm(t, "/oauth/introspect", url.Values{"token": {tok}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"active":false}`, string(raw))

	resp = s.postForm(t, "/oauth/revoke", url.Values{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeMap(t, resp)["error"])
}

func TestIntrospect_BasicCallerAuth(t *testing.T) {
	s := newTestServer(t)
	tok := s.clientCredentials(t)

	introspect := func(user, pass string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, s.URL+"/oauth/introspect", strings.NewReader(url.Values{"token": {tok}}.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(user, pass)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := introspect(webClientID, webSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeMap(t, resp)["active"])

	resp = introspect(webClientID, "wrong-secret")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, `Basic realm="oauthd"`, resp.Header.Get("WWW-Authenticate"))
	assert.Equal(t, "invalid_client", decodeMap(t, resp)["error"])

	resp = s.postForm(t, "/oauth/introspect", url.Values{
		"token":         {tok},
		"client_id":     {webClientID},
		"client_secret": {webSecret},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeMap(t, resp)["active"])
}

func TestScopesEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp := s.get(t, "/oauth/scopes", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Scopes []models.ScopeDefinition `json:"scopes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Scopes)

	var ids []string
	for _, d := range body.Scopes {
		ids = append(ids, d.ID)
	}
	assert.Contains(t, ids, "read:user")
}

func TestServerMetadata(t *testing.T) {
	s := newTestServer(t)
	resp := s.get(t, "/.well-known/oauth-authorization-server", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "max-age")

	var meta ServerMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.Equal(t, issuerURL, meta.Issuer)
	assert.Equal(t, issuerURL+"/oauth/token", meta.TokenEndpoint)
	assert.Equal(t, issuerURL+"/.well-known/jwks.json", meta.JWKSURI)
	assert.Contains(t, meta.CodeChallengeMethodsSupported, "S256")
	assert.Contains(t, meta.GrantTypesSupported, "client_credentials")
	assert.Contains(t, meta.ScopesSupported, "read:user")
	assert.Equal(t, []string{"none", "client_secret_post", "client_secret_basic"}, meta.IntrospectionEndpointAuthMethodsSupported)
}

func TestJWKS_HMACIsEmpty(t *testing.T) {
	s := newTestServer(t)
	resp := s.get(t, "/.well-known/jwks.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[]}`, string(raw))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp := s.get(t, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"store": "ok", "cache": "ok"}, body["checks"])
}

func TestHealth_Degraded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := HandleHealth(map[string]Pinger{
		"store": pingerFunc(func(context.Context) error { return nil }),
		"cache": pingerFunc(func(context.Context) error { return errors.New("redis down") }),
	}, logger)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unavailable", body.Checks["cache"])
	assert.Equal(t, "ok", body.Checks["store"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.clientCredentials(t)

	resp := s.get(t, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `oauthd_token_grants_total{grant_type="client_credentials",result="success"} 1`)
}

func TestCamel(t *testing.T) {
	assert.Equal(t, "grantType", camel("grant_type"))
	assert.Equal(t, "tokenTypeHint", camel("token_type_hint"))
	assert.Equal(t, "code", camel("code"))
}
