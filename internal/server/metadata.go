package server

import (
	"net/http"
	"strings"

	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/oauth"
	"github.com/alexjbarnes/oauthd/internal/tokens"
)

// ServerMetadata is the RFC 8414 response.
type ServerMetadata struct {
	Issuer                                    string   `json:"issuer"`
	AuthorizationEndpoint                     string   `json:"authorization_endpoint"`
	TokenEndpoint                             string   `json:"token_endpoint"`
	RevocationEndpoint                        string   `json:"revocation_endpoint"`
	IntrospectionEndpoint                     string   `json:"introspection_endpoint"`
	JWKSURI                                   string   `json:"jwks_uri"`
	ScopesSupported                           []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported                    []string `json:"response_types_supported"`
	GrantTypesSupported                       []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported             []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported         []string `json:"token_endpoint_auth_methods_supported"`
	RevocationEndpointAuthMethodsSupported    []string `json:"revocation_endpoint_auth_methods_supported"`
	IntrospectionEndpointAuthMethodsSupported []string `json:"introspection_endpoint_auth_methods_supported"`
}

// HandleServerMetadata returns the /.well-known/oauth-authorization-server handler.
func HandleServerMetadata(issuer string, catalogue []models.ScopeDefinition) http.HandlerFunc {
	base := strings.TrimRight(issuer, "/")

	ids := make([]string, 0, len(catalogue))
	for _, d := range catalogue {
		ids = append(ids, d.ID)
	}

	meta := ServerMetadata{
		Issuer:                                    issuer,
		AuthorizationEndpoint:                     base + "/oauth/authorize",
		TokenEndpoint:                             base + "/oauth/token",
		RevocationEndpoint:                        base + "/oauth/revoke",
		IntrospectionEndpoint:                     base + "/oauth/introspect",
		JWKSURI:                                   base + "/.well-known/jwks.json",
		ScopesSupported:                           ids,
		ResponseTypesSupported:                    []string{"code"},
		GrantTypesSupported:                       []string{oauth.GrantAuthorizationCode, oauth.GrantRefreshToken, oauth.GrantClientCredentials},
		CodeChallengeMethodsSupported:             []string{oauth.MethodS256, oauth.MethodPlain},
		TokenEndpointAuthMethodsSupported:         []string{"none", "client_secret_post", "client_secret_basic"},
		RevocationEndpointAuthMethodsSupported:    []string{"none"},
		IntrospectionEndpointAuthMethodsSupported: []string{"none", "client_secret_post", "client_secret_basic"},
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, meta)
	}
}

// HandleJWKS returns the /.well-known/jwks.json handler.
func HandleJWKS(keys *tokens.Keys) http.HandlerFunc {
	set := keys.JWKS()

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, set)
	}
}
