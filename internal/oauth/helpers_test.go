package oauth

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/oauthd/internal/audit"
	"github.com/alexjbarnes/oauthd/internal/codestore"
	"github.com/alexjbarnes/oauthd/internal/credentials"
	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store"
	"github.com/alexjbarnes/oauthd/internal/store/bolt"
	"github.com/alexjbarnes/oauthd/internal/tokens"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	confClientID   = "conf-app"
	confSecret     = "conf-secret-0123456789"
	confRedirect   = "https://x.test/cb"
	publicClientID = "public-app"
	publicRedirect = "https://pub.test/cb"
	machineID      = "machine"
	machineSecret  = "machine-secret-0123456789"
	suspendedID    = "suspended-app"
	testUser       = "user-42"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink captures audit events.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *bolt.Store
	cache  *codestore.MemoryCache
	issuer *tokens.Issuer
	audit  *recordingSink
}

func testIssuer(t *testing.T) *tokens.Issuer {
	t.Helper()
	keys, err := tokens.NewHMACKeys([]byte("oauth-signing-secret-0123456789ab"))
	require.NoError(t, err)
	return tokens.NewIssuer(keys, tokens.Config{
		Issuer:         "https://auth.example.test",
		Audience:       "https://api.example.test",
		AccessTokenTTL: time.Hour,
	})
}

func testRegistry(t *testing.T) *scopes.Registry {
	t.Helper()
	reg, err := scopes.Default()
	require.NoError(t, err)
	return reg
}

func hashSecret(t *testing.T, secret string) string {
	t.Helper()
	h, err := credentials.NewHasher(bcrypt.MinCost).HashSecret(secret)
	require.NoError(t, err)
	return h
}

func seedApps(t *testing.T, s store.ApplicationStore) {
	t.Helper()
	ctx := context.Background()
	apps := []models.Application{
		{
			ClientID:         confClientID,
			ClientSecretHash: hashSecret(t, confSecret),
			Name:             "Confidential",
			RedirectURIs:     []string{confRedirect},
			Scopes:           []string{"read:user", "read:posts", "write:posts"},
			Status:           models.StatusActive,
		},
		{
			ClientID:     publicClientID,
			Name:         "Public SPA",
			RedirectURIs: []string{publicRedirect},
			Scopes:       []string{"read:user", "read:photos"},
			Status:       models.StatusActive,
		},
		{
			ClientID:         machineID,
			ClientSecretHash: hashSecret(t, machineSecret),
			Name:             "Batch job",
			RedirectURIs:     []string{"https://machine.test/cb"},
			Scopes:           []string{"read:posts"},
			Status:           models.StatusActive,
		},
		{
			ClientID:         suspendedID,
			ClientSecretHash: hashSecret(t, confSecret),
			Name:             "Suspended",
			RedirectURIs:     []string{confRedirect},
			Scopes:           []string{"read:user"},
			Status:           models.StatusSuspended,
		},
	}
	for _, app := range apps {
		require.NoError(t, s.SaveApplication(ctx, app))
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := bolt.Open(filepath.Join(t.TempDir(), "oauthd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	seedApps(t, st)

	cache := codestore.NewMemoryCache()
	t.Cleanup(cache.Stop)

	rec := &recordingSink{}
	issuer := testIssuer(t)

	svc := NewService(Deps{
		Apps:     st,
		Tokens:   st,
		Codes:    codestore.New(cache, time.Minute),
		Issuer:   issuer,
		Registry: testRegistry(t),
		Audit:    rec,
		Metrics:  metrics.New(),
		Logger:   testLogger(),
	}, Config{RefreshTokenTTL: 24 * time.Hour})

	return &fixture{svc: svc, store: st, cache: cache, issuer: issuer, audit: rec}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, oerrors.As(err).Code, "error: %v", err)
}

// authorizeConf runs authorize for the confidential client without PKCE.
func (f *fixture) authorizeConf(t *testing.T, scope string) string {
	t.Helper()
	resp, err := f.svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     confClientID,
		RedirectURI:  confRedirect,
		Scope:        scope,
		State:        "xyz",
	}, testUser)
	require.NoError(t, err)
	return resp.Code
}

// exchangeConf exchanges code for the confidential client.
func (f *fixture) exchangeConf(code string) (*TokenResponse, error) {
	return f.svc.Token(context.Background(), TokenRequest{
		GrantType:    GrantAuthorizationCode,
		ClientID:     confClientID,
		ClientSecret: confSecret,
		Code:         code,
		RedirectURI:  confRedirect,
	})
}

// failingCache fails every operation.
type failingCache struct{ err error }

func (f failingCache) Set(context.Context, string, []byte, time.Duration) error { return f.err }
func (f failingCache) GetDel(context.Context, string) ([]byte, error)           { return nil, f.err }
func (f failingCache) Ping(context.Context) error                               { return f.err }
