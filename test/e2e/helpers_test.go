package e2e_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/oauthd/internal/audit"
	"github.com/alexjbarnes/oauthd/internal/codestore"
	"github.com/alexjbarnes/oauthd/internal/credentials"
	"github.com/alexjbarnes/oauthd/internal/guard"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/oauth"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/server"
	"github.com/alexjbarnes/oauthd/internal/store/bolt"
	"github.com/alexjbarnes/oauthd/internal/tokens"
	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	issuerURL     = "https://auth.e2e.test"
	clientID      = "e2e-web"
	clientSecret  = "e2e-web-secret-0123456789abcdef"
	redirectURI   = "http://127.0.0.1:19876/callback"
	serviceID     = "e2e-service"
	serviceSecret = "e2e-service-secret-0123456789ab"
	pkceVerifier  = "e2e-test-pkce-verifier-that-is-long-enough-for-rfc7636"
	testUserID    = "user-e2e"
	sessionSecret = "e2e-session-secret-0123456789abcd"
)

var (
	rsaOnce sync.Once
	rsaPEM  string
)

// signingKeyPEM generates one RSA key per test binary.
func signingKeyPEM(t *testing.T) string {
	t.Helper()
	rsaOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rsaPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(k),
		}))
	})
	return rsaPEM
}

// publishRecorder captures audit messages in place of an AMQP channel.
type publishRecorder struct {
	mu   sync.Mutex
	msgs []published
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (p *publishRecorder) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (p *publishRecorder) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.key
	}
	return out
}

func (p *publishRecorder) events(t *testing.T) []audit.Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audit.Event, len(p.msgs))
	for i, m := range p.msgs {
		require.NoError(t, json.Unmarshal(m.msg.Body, &out[i]))
	}
	return out
}

// harness is the full stack: RS256 keys, a Redis code cache, a bolt
// token store and the asynchronous AMQP audit pipeline.
type harness struct {
	URL      string
	Redis    *miniredis.Miniredis
	Audit    *publishRecorder
	sessions *tokens.SessionVerifier
	stop     func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	st, err := bolt.Open(filepath.Join(t.TempDir(), "oauthd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hasher := credentials.NewHasher(bcrypt.MinCost)
	webHash, err := hasher.HashSecret(clientSecret)
	require.NoError(t, err)
	svcHash, err := hasher.HashSecret(serviceSecret)
	require.NoError(t, err)

	require.NoError(t, st.SaveApplication(ctx, models.Application{
		ClientID:         clientID,
		ClientSecretHash: webHash,
		Name:             "E2E Web",
		RedirectURIs:     []string{redirectURI},
		Scopes:           []string{"read:user", "read:posts"},
		Status:           models.StatusActive,
	}))
	require.NoError(t, st.SaveApplication(ctx, models.Application{
		ClientID:         serviceID,
		ClientSecretHash: svcHash,
		Name:             "E2E Service",
		RedirectURIs:     []string{"https://service.e2e.test/cb"},
		Scopes:           []string{"read:posts"},
		Status:           models.StatusActive,
	}))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	codes := codestore.New(codestore.NewRedisCacheWithClient(rdb, "oauth:code:"), 10*time.Minute)

	keys, err := tokens.LoadKeys(signingKeyPEM(t), "", "")
	require.NoError(t, err)
	issuer := tokens.NewIssuer(keys, tokens.Config{Issuer: issuerURL, Audience: issuerURL, AccessTokenTTL: time.Hour})

	sessions, err := tokens.NewSessionVerifier([]byte(sessionSecret))
	require.NoError(t, err)

	registry, err := scopes.Default()
	require.NoError(t, err)

	rec := &publishRecorder{}
	m := metrics.New()
	async := audit.NewAsync(audit.NewAMQPSink(rec, "", logger), 64, m.AuditDropped, logger)

	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return async.Run(runCtx) })

	svc := oauth.NewService(oauth.Deps{
		Apps:     st,
		Tokens:   st,
		Codes:    codes,
		Issuer:   issuer,
		Registry: registry,
		Audit:    async,
		Metrics:  m,
		Logger:   logger,
	}, oauth.Config{RefreshTokenTTL: 24 * time.Hour})

	handler := server.NewMux(server.MuxConfig{
		Service:  svc,
		Guard:    guard.New(issuer, sessions, st, logger, "oauthd"),
		Keys:     keys,
		Metrics:  m,
		Logger:   logger,
		Issuer:   issuerURL,
		Backends: map[string]server.Pinger{"store": st, "cache": codes},
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	stop := sync.OnceFunc(func() {
		cancel()
		require.NoError(t, g.Wait())
	})
	t.Cleanup(stop)

	return &harness{URL: srv.URL, Redis: mr, Audit: rec, sessions: sessions, stop: stop}
}

func (h *harness) sessionToken(t *testing.T) string {
	t.Helper()
	tok, err := h.sessions.Sign(testUserID, "sess-e2e", time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path, bearer string, form url.Values) *http.Response {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, h.URL+path, body)
	require.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// authorize returns a code for the web client using the S256 challenge
// of pkceVerifier.
func (h *harness) authorize(t *testing.T, scope string) string {
	t.Helper()
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {scope},
		"state":                 {"e2e-state"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(pkceVerifier)},
		"code_challenge_method": {"S256"},
	}
	resp := h.do(t, http.MethodGet, "/oauth/authorize?"+q.Encode(), h.sessionToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body oauth.AuthorizeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "e2e-state", body.State)
	return body.Code
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
