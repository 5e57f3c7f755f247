package codestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/alexjbarnes/oauthd/internal/credentials"
	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
)

const (
	// DefaultTTL is how long an issued code stays redeemable.
	DefaultTTL = 10 * time.Minute

	// codeBytes is the entropy of an authorization code.
	codeBytes = 32
)

// ErrCodeNotFound is returned for absent, expired and already redeemed
// codes alike.
var ErrCodeNotFound = oerrors.ErrCodeNotFound

// IssueParams binds a new code to its grant.
type IssueParams struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Store issues and redeems authorization codes. A code moves from issued
// to redeemed (terminal) or expires; nothing moves it back.
type Store struct {
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// New returns a Store over cache. A non-positive ttl selects DefaultTTL.
func New(cache Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Store{cache: cache, ttl: ttl, now: time.Now}
}

// TTL returns the code lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue creates a code bound to p and returns it. The cache key is the
// SHA-256 of the code so the cache never holds redeemable values. Cache
// failures are returned to the caller.
func (s *Store) Issue(ctx context.Context, p IssueParams) (string, error) {
	code, err := credentials.RandomToken(codeBytes)
	if err != nil {
		return "", err
	}

	now := s.now()
	rec := models.AuthorizationCode{
		ClientID:            p.ClientID,
		UserID:              p.UserID,
		RedirectURI:         p.RedirectURI,
		Scopes:              slices.Clone(p.Scopes),
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		IssuedAt:            now,
		ExpiresAt:           now.Add(s.ttl),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding authorization code: %w", err)
	}

	if err := s.cache.Set(ctx, credentials.HashToken(code), data, s.ttl); err != nil {
		return "", fmt.Errorf("storing authorization code: %w", err)
	}

	return code, nil
}

// RedeemOnce atomically fetches and deletes the record for code. Only
// one caller can ever receive a given record. Expired records are
// treated as absent.
func (s *Store) RedeemOnce(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrCodeNotFound
	}

	data, err := s.cache.GetDel(ctx, credentials.HashToken(code))
	if errors.Is(err, ErrCacheMiss) {
		return nil, ErrCodeNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("redeeming authorization code: %w", err)
	}

	var rec models.AuthorizationCode
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding authorization code: %w", err)
	}

	if rec.Expired(s.now()) {
		return nil, ErrCodeNotFound
	}

	return &rec, nil
}

// Ping checks the backing cache.
func (s *Store) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}
