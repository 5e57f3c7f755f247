// Package postgres is the relational store backed by PostgreSQL through
// lib/pq. The schema is managed by embedded goose migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/store"
	"github.com/lib/pq"
)

// Options configures the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var _ store.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Applications ---

const applicationColumns = `client_id, client_secret_hash, name, redirect_uris, scopes, status, rate_limit, created_at, updated_at`

// GetApplication returns the application with clientID or store.ErrNotFound.
func (s *Store) GetApplication(ctx context.Context, clientID string) (*models.Application, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM oauth_applications WHERE client_id = $1`, clientID)

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting application: %w", err)
	}

	return app, nil
}

// SaveApplication inserts or updates an application. created_at is kept
// on update.
func (s *Store) SaveApplication(ctx context.Context, app models.Application) error {
	if app.ClientID == "" {
		return errors.New("client id is required")
	}

	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_id)
		DO UPDATE SET
			client_secret_hash = EXCLUDED.client_secret_hash,
			name = EXCLUDED.name,
			redirect_uris = EXCLUDED.redirect_uris,
			scopes = EXCLUDED.scopes,
			status = EXCLUDED.status,
			rate_limit = EXCLUDED.rate_limit,
			updated_at = EXCLUDED.updated_at`,
		app.ClientID,
		nullableString(app.ClientSecretHash),
		app.Name,
		pq.Array(app.RedirectURIs),
		pq.Array(app.Scopes),
		string(app.Status),
		app.RateLimit,
		app.CreatedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("saving application: %w", err)
	}

	return nil
}

// SetApplicationStatus moves an application to status.
func (s *Store) SetApplicationStatus(ctx context.Context, clientID string, status models.ApplicationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid application status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_applications SET status = $2, updated_at = $3 WHERE client_id = $1`,
		clientID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating application status: %w", err)
	}

	return requireRow(res, store.ErrNotFound)
}

// ListApplications returns all applications ordered by client id.
func (s *Store) ListApplications(ctx context.Context) ([]models.Application, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM oauth_applications ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	var apps []models.Application

	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning application: %w", err)
		}

		apps = append(apps, *app)
	}

	return apps, rows.Err()
}

// --- Tokens ---

const tokenColumns = `id, access_token_hash, refresh_token_hash, user_id, client_id, scopes,
	issued_at, expires_at, refresh_expires_at, revoked, revoked_at`

// CreateToken inserts a token row.
func (s *Store) CreateToken(ctx context.Context, t models.OAuthToken) error {
	if err := insertToken(ctx, s.db, t); err != nil {
		return fmt.Errorf("creating token: %w", err)
	}

	return nil
}

// FindByAccessHash returns the token whose access token hashes to hash.
func (s *Store) FindByAccessHash(ctx context.Context, hash string) (*models.OAuthToken, error) {
	return s.findBy(ctx, "access_token_hash", hash)
}

// FindByRefreshHash returns the token whose refresh token hashes to hash.
func (s *Store) FindByRefreshHash(ctx context.Context, hash string) (*models.OAuthToken, error) {
	return s.findBy(ctx, "refresh_token_hash", hash)
}

func (s *Store) findBy(ctx context.Context, column, hash string) (*models.OAuthToken, error) {
	if hash == "" {
		return nil, store.ErrTokenNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE `+column+` = $1`, hash)

	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTokenNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("finding token: %w", err)
	}

	return t, nil
}

// RevokeToken sets revoked on the row. revoked_at keeps its first value.
func (s *Store) RevokeToken(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_tokens SET revoked = true, revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`,
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}

	return requireRow(res, store.ErrTokenNotFound)
}

// Rotate revokes the old row and inserts next in one transaction. The
// conditional update takes the row lock, so a concurrent rotation of the
// same refresh token waits and then matches zero rows.
func (s *Store) Rotate(ctx context.Context, oldRefreshHash string, next models.OAuthToken, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE oauth_tokens SET revoked = true, revoked_at = $2
		 WHERE refresh_token_hash = $1 AND revoked = false`,
		oldRefreshHash, at.UTC())
	if err != nil {
		return fmt.Errorf("revoking rotated token: %w", err)
	}

	if err := requireRow(res, store.ErrTokenNotFound); err != nil {
		return err
	}

	if err := insertToken(ctx, tx, next); err != nil {
		return fmt.Errorf("inserting rotated token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, t models.OAuthToken) error {
	if t.ID == "" || t.AccessTokenHash == "" {
		return errors.New("token id and access token hash are required")
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID,
		t.AccessTokenHash,
		nullableString(t.RefreshTokenHash),
		nullableString(t.UserID),
		t.ClientID,
		pq.Array(t.Scopes),
		t.IssuedAt,
		t.ExpiresAt,
		nullableTime(t.RefreshExpiresAt),
		t.Revoked,
		t.RevokedAt,
	)

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(row scanner) (*models.Application, error) {
	var (
		app        models.Application
		secretHash sql.NullString
		status     string
	)

	err := row.Scan(
		&app.ClientID,
		&secretHash,
		&app.Name,
		pq.Array(&app.RedirectURIs),
		pq.Array(&app.Scopes),
		&status,
		&app.RateLimit,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.ClientSecretHash = secretHash.String
	app.Status = models.ApplicationStatus(status)

	return &app, nil
}

func scanToken(row scanner) (*models.OAuthToken, error) {
	var (
		t              models.OAuthToken
		refreshHash    sql.NullString
		userID         sql.NullString
		refreshExpires sql.NullTime
		revokedAt      sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.AccessTokenHash,
		&refreshHash,
		&userID,
		&t.ClientID,
		pq.Array(&t.Scopes),
		&t.IssuedAt,
		&t.ExpiresAt,
		&refreshExpires,
		&t.Revoked,
		&revokedAt,
	)
	if err != nil {
		return nil, err
	}

	t.RefreshTokenHash = refreshHash.String
	t.UserID = userID.String

	if refreshExpires.Valid {
		t.RefreshExpiresAt = refreshExpires.Time
	}

	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}

	return &t, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}

	if n == 0 {
		return notFound
	}

	return nil
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
