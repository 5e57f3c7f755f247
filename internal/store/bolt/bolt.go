// Package bolt is an embedded single-node store backed by bbolt. Values
// are JSON; secondary buckets map token hashes to token ids.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/store"
	bolt "go.etcd.io/bbolt"
)

const (
	// dirPerm is the permission mode for the database directory.
	dirPerm = fs.FileMode(0o700)

	// filePerm is the permission mode for the database file.
	filePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt database lock.
	openTimeout = 5 * time.Second
)

var (
	applicationsBucket    = []byte("applications")
	tokensBucket          = []byte("tokens")
	tokensByAccessBucket  = []byte("tokens_by_access")
	tokensByRefreshBucket = []byte("tokens_by_refresh")
)

var _ store.Store = (*Store)(nil)

// Store wraps a bbolt database holding applications and tokens.
type Store struct {
	db *bolt.DB
}

// Open opens the database at path, creating it and its buckets if they
// do not exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{applicationsBucket, tokensBucket, tokensByAccessBucket, tokensByRefreshBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(applicationsBucket) == nil {
			return errors.New("applications bucket missing")
		}

		return nil
	})
}

// --- Applications ---

// GetApplication returns the application with clientID or store.ErrNotFound.
func (s *Store) GetApplication(ctx context.Context, clientID string) (*models.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var app *models.Application

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(applicationsBucket).Get([]byte(clientID))
		if v == nil {
			return store.ErrNotFound
		}

		app = &models.Application{}

		return json.Unmarshal(v, app)
	})
	if err != nil {
		return nil, err
	}

	return app, nil
}

// SaveApplication inserts or replaces an application. CreatedAt is
// preserved across updates.
func (s *Store) SaveApplication(ctx context.Context, app models.Application) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if app.ClientID == "" {
		return errors.New("client id is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(applicationsBucket)

		now := time.Now().UTC()
		if v := b.Get([]byte(app.ClientID)); v != nil {
			var existing models.Application
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}

			app.CreatedAt = existing.CreatedAt
		}

		if app.CreatedAt.IsZero() {
			app.CreatedAt = now
		}

		app.UpdatedAt = now

		data, err := json.Marshal(app)
		if err != nil {
			return err
		}

		return b.Put([]byte(app.ClientID), data)
	})
}

// SetApplicationStatus moves an application to status.
func (s *Store) SetApplicationStatus(ctx context.Context, clientID string, status models.ApplicationStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !status.Valid() {
		return fmt.Errorf("invalid application status %q", status)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(applicationsBucket)

		v := b.Get([]byte(clientID))
		if v == nil {
			return store.ErrNotFound
		}

		var app models.Application
		if err := json.Unmarshal(v, &app); err != nil {
			return err
		}

		app.Status = status
		app.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(app)
		if err != nil {
			return err
		}

		return b.Put([]byte(clientID), data)
	})
}

// ListApplications returns all applications ordered by client id.
func (s *Store) ListApplications(ctx context.Context) ([]models.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var apps []models.Application

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(applicationsBucket).ForEach(func(_, v []byte) error {
			var app models.Application
			if err := json.Unmarshal(v, &app); err != nil {
				return err
			}

			apps = append(apps, app)

			return nil
		})
	})

	return apps, err
}

// --- Tokens ---

// CreateToken persists a new token row and its hash indexes.
func (s *Store) CreateToken(ctx context.Context, t models.OAuthToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return putToken(tx, t)
	})
}

// FindByAccessHash returns the token whose access token hashes to hash.
func (s *Store) FindByAccessHash(ctx context.Context, hash string) (*models.OAuthToken, error) {
	return s.findBy(ctx, tokensByAccessBucket, hash)
}

// FindByRefreshHash returns the token whose refresh token hashes to hash.
func (s *Store) FindByRefreshHash(ctx context.Context, hash string) (*models.OAuthToken, error) {
	return s.findBy(ctx, tokensByRefreshBucket, hash)
}

func (s *Store) findBy(ctx context.Context, index []byte, hash string) (*models.OAuthToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if hash == "" {
		return nil, store.ErrTokenNotFound
	}

	var t *models.OAuthToken

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(index).Get([]byte(hash))
		if id == nil {
			return store.ErrTokenNotFound
		}

		var err error
		t, err = getToken(tx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RevokeToken marks the token with id revoked. Already revoked rows keep
// their original RevokedAt.
func (s *Store) RevokeToken(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		t, err := getToken(tx, []byte(id))
		if err != nil {
			return err
		}

		if t.Revoked {
			return nil
		}

		return markRevoked(tx, t, at)
	})
}

// Rotate revokes the row holding oldRefreshHash and inserts next in one
// write transaction. bbolt serializes writers, so a concurrent second
// rotation sees the row already revoked.
func (s *Store) Rotate(ctx context.Context, oldRefreshHash string, next models.OAuthToken, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		id := tx.Bucket(tokensByRefreshBucket).Get([]byte(oldRefreshHash))
		if id == nil {
			return store.ErrTokenNotFound
		}

		old, err := getToken(tx, id)
		if err != nil {
			return err
		}

		if old.Revoked {
			return store.ErrTokenNotFound
		}

		if err := markRevoked(tx, old, at); err != nil {
			return err
		}

		return putToken(tx, next)
	})
}

func getToken(tx *bolt.Tx, id []byte) (*models.OAuthToken, error) {
	v := tx.Bucket(tokensBucket).Get(id)
	if v == nil {
		return nil, store.ErrTokenNotFound
	}

	t := &models.OAuthToken{}
	if err := json.Unmarshal(v, t); err != nil {
		return nil, fmt.Errorf("decoding token %s: %w", id, err)
	}

	return t, nil
}

func putToken(tx *bolt.Tx, t models.OAuthToken) error {
	if t.ID == "" || t.AccessTokenHash == "" {
		return errors.New("token id and access token hash are required")
	}

	b := tx.Bucket(tokensBucket)
	if b.Get([]byte(t.ID)) != nil {
		return fmt.Errorf("token %s already exists", t.ID)
	}

	if err := writeToken(tx, &t); err != nil {
		return err
	}

	if err := tx.Bucket(tokensByAccessBucket).Put([]byte(t.AccessTokenHash), []byte(t.ID)); err != nil {
		return err
	}

	if t.RefreshTokenHash != "" {
		return tx.Bucket(tokensByRefreshBucket).Put([]byte(t.RefreshTokenHash), []byte(t.ID))
	}

	return nil
}

func markRevoked(tx *bolt.Tx, t *models.OAuthToken, at time.Time) error {
	at = at.UTC()
	t.Revoked = true
	t.RevokedAt = &at

	return writeToken(tx, t)
}

func writeToken(tx *bolt.Tx, t *models.OAuthToken) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	return tx.Bucket(tokensBucket).Put([]byte(t.ID), data)
}
