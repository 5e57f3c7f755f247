// Package errors defines the error taxonomy shared by the OAuth core and
// its HTTP transport.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Storage and cache errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrCacheMiss     = errors.New("cache miss")
	ErrCodeNotFound  = errors.New("authorization code not found or already used")
	ErrTokenNotFound = errors.New("token not found")
)

// Token verification errors.
var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrAmbiguousToken = errors.New("token verified by more than one verifier")
	ErrWrongTokenType = errors.New("token type not accepted here")
)

// Kind classifies an OAuthError for transport mapping.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Machine-readable error codes (RFC 6749 Section 5.2, RFC 7009, RFC 7662).
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeInvalidScope            = "invalid_scope"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeAccessDenied            = "access_denied"
	CodeNotFound                = "not_found"
	CodeServerError             = "server_error"
)

// OAuthError is returned by every public OAuth operation. Code is stable
// and safe to expose; Cause is for logs only.
type OAuthError struct {
	Kind        Kind
	Code        string
	Description string
	Cause       error
}

func (e *OAuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *OAuthError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to a response status code.
func (e *OAuthError) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, code, description string) *OAuthError {
	return &OAuthError{Kind: kind, Code: code, Description: description}
}

func InvalidRequest(description string) *OAuthError {
	return newError(KindBadRequest, CodeInvalidRequest, description)
}

func InvalidClient(description string) *OAuthError {
	return newError(KindBadRequest, CodeInvalidClient, description)
}

func InvalidGrant(description string) *OAuthError {
	return newError(KindBadRequest, CodeInvalidGrant, description)
}

func InvalidScope(description string) *OAuthError {
	return newError(KindBadRequest, CodeInvalidScope, description)
}

func UnsupportedGrantType(grantType string) *OAuthError {
	return newError(KindBadRequest, CodeUnsupportedGrantType, fmt.Sprintf("grant_type %q is not supported", grantType))
}

func UnsupportedResponseType(responseType string) *OAuthError {
	return newError(KindBadRequest, CodeUnsupportedResponseType, fmt.Sprintf("response_type %q is not supported", responseType))
}

// UnauthorizedClient is used for applications that exist but are not
// allowed to obtain tokens (any status other than ACTIVE).
func UnauthorizedClient(description string) *OAuthError {
	return newError(KindForbidden, CodeUnauthorizedClient, description)
}

func AccessDenied(description string) *OAuthError {
	return newError(KindForbidden, CodeAccessDenied, description)
}

func NotFound(description string) *OAuthError {
	return newError(KindNotFound, CodeNotFound, description)
}

// Internal wraps a backend failure. The description is generic so that
// nothing about the backend leaks to the client.
func Internal(cause error) *OAuthError {
	return &OAuthError{
		Kind:        KindInternal,
		Code:        CodeServerError,
		Description: "internal server error",
		Cause:       cause,
	}
}

// As extracts an *OAuthError from err. Errors that are not OAuth errors
// are reported as internal.
func As(err error) *OAuthError {
	if err == nil {
		return nil
	}

	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}

	return Internal(err)
}

// Is reports whether err is an OAuthError with the given code.
func Is(err error, code string) bool {
	var oe *OAuthError
	return errors.As(err, &oe) && oe.Code == code
}
