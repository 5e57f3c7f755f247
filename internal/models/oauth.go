// Package models defines types shared across internal packages.
package models

import (
	"slices"
	"time"
)

// ApplicationStatus is the lifecycle state of a registered application.
type ApplicationStatus string

const (
	StatusPending   ApplicationStatus = "PENDING"
	StatusActive    ApplicationStatus = "ACTIVE"
	StatusSuspended ApplicationStatus = "SUSPENDED"
	StatusRevoked   ApplicationStatus = "REVOKED"
	StatusRejected  ApplicationStatus = "REJECTED"
)

// Valid reports whether s is a known status.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusRevoked, StatusRejected:
		return true
	}

	return false
}

// CanIssueTokens reports whether tokens may be issued for an application
// in this status. Only ACTIVE applications qualify.
func (s ApplicationStatus) CanIssueTokens() bool {
	return s == StatusActive
}

// Application is a registered OAuth client. Applications are never
// deleted, only moved between statuses.
type Application struct {
	ClientID         string            `json:"client_id"`
	ClientSecretHash string            `json:"client_secret_hash,omitempty"`
	Name             string            `json:"name"`
	RedirectURIs     []string          `json:"redirect_uris"`
	Scopes           []string          `json:"scopes"`
	Status           ApplicationStatus `json:"status"`
	RateLimit        int               `json:"rate_limit"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsConfidential reports whether the application authenticates with a
// client secret.
func (a *Application) IsConfidential() bool {
	return a.ClientSecretHash != ""
}

// HasRedirectURI reports whether uri exactly equals one of the registered
// redirect URIs. No prefix or pattern matching is performed.
func (a *Application) HasRedirectURI(uri string) bool {
	return slices.Contains(a.RedirectURIs, uri)
}

// AuthorizationCode is the record bound to a one-time code. It lives only
// in the expiring cache.
type AuthorizationCode struct {
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	IssuedAt            time.Time `json:"issued_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// Expired reports whether the code is past its expiry at now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// OAuthToken is the persisted record of an issued token pair. Only hashes
// of the token values are stored. Rows are kept after revocation.
type OAuthToken struct {
	ID               string     `json:"id"`
	AccessTokenHash  string     `json:"access_token_hash"`
	RefreshTokenHash string     `json:"refresh_token_hash,omitempty"`
	UserID           string     `json:"user_id,omitempty"`
	ClientID         string     `json:"client_id"`
	Scopes           []string   `json:"scopes"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at,omitzero"`
	Revoked          bool       `json:"revoked"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the access token is usable at now.
func (t *OAuthToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// RefreshActive reports whether the refresh token is usable at now.
func (t *OAuthToken) RefreshActive(now time.Time) bool {
	return !t.Revoked && t.RefreshTokenHash != "" && now.Before(t.RefreshExpiresAt)
}

// ScopeCategory groups scopes by the kind of access they grant.
type ScopeCategory string

const (
	CategoryRead  ScopeCategory = "read"
	CategoryWrite ScopeCategory = "write"
	CategoryAdmin ScopeCategory = "admin"
)

// Valid reports whether c is a known category.
func (c ScopeCategory) Valid() bool {
	return c == CategoryRead || c == CategoryWrite || c == CategoryAdmin
}

// ScopeDefinition describes one grantable scope.
type ScopeDefinition struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	Description      string        `json:"description" yaml:"description"`
	Category         ScopeCategory `json:"category" yaml:"category"`
	RequiresApproval bool          `json:"requiresApproval" yaml:"requires_approval"`
	IsDefault        bool          `json:"isDefault" yaml:"is_default"`
}
