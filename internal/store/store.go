// Package store defines the persistence interfaces for applications and
// issued tokens. Backends live in the bolt and postgres subpackages.
package store

import (
	"context"
	"time"

	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go ApplicationStore,TokenStore

var (
	// ErrNotFound is returned when no application has the given client id.
	ErrNotFound = oerrors.ErrNotFound

	// ErrTokenNotFound is returned when no token row matches a lookup, and
	// by Rotate when the old row is absent or already revoked.
	ErrTokenNotFound = oerrors.ErrTokenNotFound
)

// ApplicationStore persists registered applications. Applications are
// never deleted; SetApplicationStatus is the only way to retire one.
type ApplicationStore interface {
	GetApplication(ctx context.Context, clientID string) (*models.Application, error)
	SaveApplication(ctx context.Context, app models.Application) error
	SetApplicationStatus(ctx context.Context, clientID string, status models.ApplicationStatus) error
	ListApplications(ctx context.Context) ([]models.Application, error)
}

// TokenStore persists issued token records, looked up by the SHA-256 of
// the token values.
type TokenStore interface {
	CreateToken(ctx context.Context, t models.OAuthToken) error
	FindByAccessHash(ctx context.Context, hash string) (*models.OAuthToken, error)
	FindByRefreshHash(ctx context.Context, hash string) (*models.OAuthToken, error)

	// RevokeToken marks the row revoked. Revoking an already revoked row
	// is a no-op; the flag never goes back to false.
	RevokeToken(ctx context.Context, id string, at time.Time) error

	// Rotate revokes the row holding oldRefreshHash and inserts next as a
	// single atomic step. It fails with ErrTokenNotFound when the old row
	// is absent or already revoked, so only one of two concurrent
	// rotations of the same refresh token can succeed.
	Rotate(ctx context.Context, oldRefreshHash string, next models.OAuthToken, at time.Time) error
}

// Store is a complete backend.
type Store interface {
	ApplicationStore
	TokenStore
	Ping(ctx context.Context) error
	Close() error
}
